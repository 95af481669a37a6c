package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/config"
	"github.com/oddsdesk/lineguard/internal/control"
	"github.com/oddsdesk/lineguard/internal/store/gormstore"
)

// controlHandler dispatches admin verbs to the matching user's engine
// scope, per spec §6's flat verb list.
type controlHandler struct {
	cfg    *config.Config
	db     *gormstore.Store
	scopes map[uuid.UUID]*userScope
}

func (h *controlHandler) Handle(req control.Request) control.Response {
	userID, err := uuid.Parse(req.User)
	if err != nil && req.Verb != "enable_dry_run" {
		return control.Response{OK: false, Message: "invalid or missing user id", Code: control.ExitMisconfigured}
	}

	scope, ok := h.scopes[userID]
	if !ok && req.Verb != "enable_dry_run" {
		return control.Response{OK: false, Message: fmt.Sprintf("no engine scope for user %s", req.User), Code: control.ExitMisconfigured}
	}

	switch req.Verb {
	case "status":
		return control.Response{OK: true, Message: string(scope.Engine.State()), Code: control.ExitOK}

	case "start":
		if err := scope.Engine.Start(context.Background()); err != nil {
			return control.Response{OK: false, Message: err.Error(), Code: control.ExitMisconfigured}
		}
		return control.Response{OK: true, Message: "started", Code: control.ExitOK}

	case "stop":
		scope.Engine.Stop()
		return control.Response{OK: true, Message: "stopped", Code: control.ExitOK}

	case "drain":
		scope.Engine.Drain()
		return control.Response{OK: true, Message: "draining", Code: control.ExitOK}

	case "reset_kill_switch":
		return h.resetKillSwitch(scope)

	case "set_allocations":
		return h.setAllocations(userID, req.Allocations)

	case "set_primary":
		return h.setPrimary(userID, req.Account)

	case "enable_dry_run":
		return control.Response{OK: false, Message: "enable_dry_run requires a process restart with DRY_RUN set; not a live toggle", Code: control.ExitMisconfigured}

	default:
		return control.Response{OK: false, Message: fmt.Sprintf("unknown verb %q", req.Verb), Code: control.ExitMisconfigured}
	}
}

func (h *controlHandler) resetKillSwitch(scope *userScope) control.Response {
	ctx := context.Background()
	total := decimal.Zero
	for _, acct := range scope.Accounts {
		bal, err := acct.Adapter.GetBalance(ctx)
		if err != nil {
			return control.Response{OK: false, Message: fmt.Sprintf("fetch balance for account %s: %v", acct.ID, err), Code: control.ExitExchangeUnreachable}
		}
		total = total.Add(bal.Available)
	}

	if err := scope.Guardian.ClearKillSwitch(total); err != nil {
		return control.Response{OK: false, Message: err.Error(), Code: control.ExitKillSwitchLatched}
	}
	return control.Response{OK: true, Message: "kill switch cleared", Code: control.ExitOK}
}

func (h *controlHandler) setAllocations(userID uuid.UUID, entries []control.AllocationEntry) control.Response {
	sum := 0.0
	allocations := make(map[uuid.UUID]decimal.Decimal, len(entries))
	for _, e := range entries {
		acctID, err := uuid.Parse(e.Account)
		if err != nil {
			return control.Response{OK: false, Message: fmt.Sprintf("invalid account id %q", e.Account), Code: control.ExitMisconfigured}
		}
		allocations[acctID] = decimal.NewFromFloat(e.Pct)
		sum += e.Pct
	}
	if sum < 99.99 || sum > 100.01 {
		return control.Response{OK: false, Message: fmt.Sprintf("allocations must sum to 100 +/- 0.01, got %.4f", sum), Code: control.ExitMisconfigured}
	}

	if err := h.db.SetAccountAllocations(context.Background(), userID, allocations); err != nil {
		return control.Response{OK: false, Message: err.Error(), Code: control.ExitMisconfigured}
	}
	return control.Response{OK: true, Message: "allocations updated", Code: control.ExitOK}
}

func (h *controlHandler) setPrimary(userID uuid.UUID, account string) control.Response {
	acctID, err := uuid.Parse(account)
	if err != nil {
		return control.Response{OK: false, Message: fmt.Sprintf("invalid account id %q", account), Code: control.ExitMisconfigured}
	}
	if err := h.db.SetPrimaryAccount(context.Background(), userID, acctID); err != nil {
		return control.Response{OK: false, Message: err.Error(), Code: control.ExitMisconfigured}
	}
	return control.Response{OK: true, Message: "primary account updated", Code: control.ExitOK}
}
