package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetrecon/internal/drift"
	"github.com/roach88/fleetrecon/internal/eventlog"
	"github.com/roach88/fleetrecon/internal/fleet"
	"github.com/roach88/fleetrecon/internal/projector"
	"github.com/roach88/fleetrecon/internal/registry"
	"github.com/roach88/fleetrecon/internal/store"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <asset-id>",
		Short: "Show an engine's history and computed placement",
		Long: `Print an asset's ordered history, the placement it implies, the cached
projection, the drift between them and the corrections applied so far.

Nothing is written.

Example:
  fleetrecon history 12 --db ./fleet.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	out := opts.output(cmd)
	ctx := opts.context(cmd)

	n, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || n <= 0 {
		return out.Fail(ErrCodeArgs, NewExitError(ExitCommandError, fmt.Sprintf("invalid asset id %q", rawID)))
	}
	id := fleet.AssetID(n)

	backend, err := OpenBackend(ctx, opts.config.Database)
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer closeBackend(ctx, backend)

	asset, err := backend.ReadAsset(ctx, id)
	if errors.Is(err, store.ErrAssetNotFound) {
		return out.Fail(ErrCodeNotFound, NewExitError(ExitCommandError, fmt.Sprintf("asset %d not found", id)))
	}
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to read asset", err))
	}

	reg, err := registry.Build(ctx, backend)
	if err != nil {
		return out.Fail(ErrCodeRegistry, WrapExitError(ExitCommandError, "cannot load container registry", err))
	}

	events, err := eventlog.NewReader(backend).LoadHistory(ctx, id)
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to read history", err))
	}

	corrections, err := backend.ReadCorrections(ctx, id)
	if err != nil {
		return out.Fail(ErrCodeDatabase, WrapExitError(ExitCommandError, "failed to read corrections", err))
	}

	view := HistoryView{
		Asset:       asset,
		Events:      events,
		Corrections: corrections,
	}
	if target, ok := projector.Project(events, reg); ok {
		view.Target = newTargetView(target)
		if c := drift.Diff(asset.Projection, target); c != nil {
			c.AssetID = id
			view.Drift = c
		}
	}

	return out.Success(view)
}

// TargetView is the placement an asset's history implies.
type TargetView struct {
	Status      fleet.AssetStatus  `json:"status"`
	ContainerID *fleet.ContainerID `json:"container_id"`
	Slot        *int               `json:"slot"`

	// ConditionTag is nil when the history leaves the tag as it is.
	ConditionTag *string `json:"condition_tag"`

	UnresolvedRef string `json:"unresolved_ref,omitempty"`
}

func newTargetView(t fleet.TargetState) *TargetView {
	v := &TargetView{
		Status:        t.Status,
		ContainerID:   t.ContainerID,
		Slot:          t.Slot,
		UnresolvedRef: t.Unresolved,
	}
	if !t.KeepCondition {
		cond := t.ConditionTag
		v.ConditionTag = &cond
	}
	return v
}

// HistoryView is the output of the history command.
type HistoryView struct {
	Asset       fleet.Asset              `json:"asset"`
	Events      []fleet.Event            `json:"events"`
	Target      *TargetView              `json:"target"`
	Drift       *fleet.Correction        `json:"drift"`
	Corrections []store.CorrectionRecord `json:"corrections"`
}

func (v HistoryView) String() string {
	var b strings.Builder
	a := v.Asset
	p := a.Projection

	fmt.Fprintf(&b, "Asset %d (%s) version %d\n", a.ID, a.SerialNo, a.Version)
	fmt.Fprintf(&b, "Current:  status %s, container %s, slot %s, condition %s\n",
		p.Status, fleet.FormatContainer(p.ContainerID), fleet.FormatSlot(p.Slot), fleet.FormatText(p.ConditionTag))

	if v.Target == nil {
		b.WriteString("Target:   none (no placement history)\n")
	} else {
		cond := "(unchanged)"
		if v.Target.ConditionTag != nil {
			cond = fleet.FormatText(*v.Target.ConditionTag)
		}
		fmt.Fprintf(&b, "Target:   status %s, container %s, slot %s, condition %s",
			v.Target.Status, fleet.FormatContainer(v.Target.ContainerID), fleet.FormatSlot(v.Target.Slot), cond)
		if v.Target.UnresolvedRef != "" {
			fmt.Fprintf(&b, " (unresolved destination %s)", v.Target.UnresolvedRef)
		}
		b.WriteString("\n")
	}

	b.WriteString("Events:\n")
	if len(v.Events) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, ev := range v.Events {
		fmt.Fprintf(&b, "  %s\n", ev)
	}

	if v.Drift == nil {
		b.WriteString("Drift:    none\n")
	} else {
		b.WriteString("Drift:\n")
		for _, ch := range v.Drift.Changes {
			fmt.Fprintf(&b, "  %s %s -> %s\n", ch.Field, ch.Old, ch.New)
		}
	}

	b.WriteString("Corrections:")
	if len(v.Corrections) == 0 {
		b.WriteString("\n  (none)")
	}
	for _, c := range v.Corrections {
		parts := make([]string, 0, len(c.Changes))
		for _, ch := range c.Changes {
			parts = append(parts, fmt.Sprintf("%s %s -> %s", ch.Field, ch.Old, ch.New))
		}
		fmt.Fprintf(&b, "\n  %s run %s: %s", c.AppliedAt.UTC().Format(time.RFC3339), c.RunID, strings.Join(parts, ", "))
	}
	return b.String()
}
