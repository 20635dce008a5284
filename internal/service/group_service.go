package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/ajo/internal/calculator"
	"github.com/mmynk/ajo/internal/config"
	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/middleware"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/payment"
	"github.com/mmynk/ajo/internal/payout"
	"github.com/mmynk/ajo/internal/storage"
	pb "github.com/mmynk/ajo/pkg/api"
	"github.com/mmynk/ajo/pkg/api/apiconnect"
)

// Ensure GroupService implements the Connect handler interface
var _ apiconnect.GroupServiceHandler = (*GroupService)(nil)

// GroupService implements the Connect GroupService: group lifecycle, ledger
// reads and operator actions. Callers are already authorized for the group
// they name.
type GroupService struct {
	store      storage.Store
	applier    *payment.Applier
	dispatcher *payout.Dispatcher
	defaults   config.PolicyConfig
	nowFn      func() time.Time
}

// NewGroupService creates a new GroupService.
func NewGroupService(store storage.Store, applier *payment.Applier, dispatcher *payout.Dispatcher, defaults config.PolicyConfig) *GroupService {
	return &GroupService{
		store:      store,
		applier:    applier,
		dispatcher: dispatcher,
		defaults:   defaults,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service's time source.
func (s *GroupService) SetClock(now func() time.Time) {
	s.nowFn = now
}

// CreateGroup creates a forming group. Unset policy fields take the
// configured defaults.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[pb.CreateGroupRequest]) (*connect.Response[pb.CreateGroupResponse], error) {
	slog.Info("CreateGroup request received",
		"name", req.Msg.Name,
		"capacity", req.Msg.Capacity,
		"contribution_amount", req.Msg.ContributionAmount,
	)

	group, err := groupFromRequest(req.Msg, s.defaults)
	if err != nil {
		return nil, connectError(err)
	}
	group.CreatedBy = middleware.GetUserID(ctx)
	group.CreatedAt = s.nowFn()

	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateGroup(ctx, group)
	})
	if err != nil {
		slog.Error("CreateGroup failed", "error", err)
		return nil, connectError(err)
	}

	slog.Info("Group created", "group_id", group.ID)
	return connect.NewResponse(&pb.CreateGroupResponse{Group: toPBGroup(group)}), nil
}

// JoinGroup adds the caller to a forming group as a pending member. In a
// group without a security deposit the member qualifies on joining, and the
// join that fills the group activates it.
func (s *GroupService) JoinGroup(ctx context.Context, req *connect.Request[pb.JoinGroupRequest]) (*connect.Response[pb.JoinGroupResponse], error) {
	caller, ok := middleware.GetCaller(ctx)
	if !ok || caller.UserID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("caller identity required"))
	}
	if strings.TrimSpace(req.Msg.PayoutDestination) == "" {
		return nil, connectError(fmt.Errorf("%w: payout destination required", models.ErrInvalidInput))
	}
	displayName := req.Msg.DisplayName
	if displayName == "" {
		displayName = caller.Email
	}

	var (
		member  *models.Member
		started *pb.Cycle
	)
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		group, err := tx.GetGroup(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		if group.Status != models.GroupForming {
			return fmt.Errorf("%w: group %s is %s", models.ErrInvalidState, group.ID, group.Status)
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		joined := 0
		for _, m := range members {
			if m.Status != models.MemberRemoved {
				joined++
			}
		}
		if joined >= group.Capacity {
			return fmt.Errorf("%w: group %s is full", models.ErrInvalidState, group.ID)
		}

		now := s.nowFn()
		member = &models.Member{
			GroupID:           group.ID,
			UserID:            caller.UserID,
			DisplayName:       displayName,
			PayoutDestination: req.Msg.PayoutDestination,
			JoinedAt:          now,
		}
		if err := tx.AddMember(ctx, member); err != nil {
			return err
		}
		if group.DepositAmount > 0 {
			return nil
		}

		if err := tx.MarkMemberQualified(ctx, member.ID, now); err != nil {
			return err
		}
		ready, err := payment.ReadyToActivate(ctx, tx, group)
		if err != nil || !ready {
			return err
		}
		c, err := cycle.Start(ctx, tx, group.ID, now)
		if err != nil {
			return err
		}
		if member, err = tx.GetMember(ctx, member.ID); err != nil {
			return err
		}
		started, err = s.loadCycle(ctx, tx, c)
		return err
	})
	if err != nil {
		slog.Warn("JoinGroup failed", "group_id", req.Msg.GroupId, "user_id", caller.UserID, "error", err)
		return nil, connectError(err)
	}

	slog.Info("Member joined", "group_id", member.GroupID, "member_id", member.ID, "activated", started != nil)
	return connect.NewResponse(&pb.JoinGroupResponse{Member: toPBMember(member), Cycle: started}), nil
}

// RecordDeposit applies a confirmed security deposit.
func (s *GroupService) RecordDeposit(ctx context.Context, req *connect.Request[pb.RecordDepositRequest]) (*connect.Response[pb.RecordDepositResponse], error) {
	res, err := s.applier.RecordDeposit(ctx, payment.Deposit{
		MemberID:  req.Msg.MemberId,
		Reference: req.Msg.Reference,
		Amount:    req.Msg.Amount,
	})
	if err != nil {
		return nil, connectError(err)
	}

	resp := &pb.RecordDepositResponse{
		Transaction: toPBTransaction(res.Transaction),
		Duplicate:   res.Duplicate,
		Activated:   res.Activated,
	}
	if res.Cycle != nil {
		err := s.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			resp.Cycle, err = s.loadCycle(ctx, tx, res.Cycle)
			return err
		})
		if err != nil {
			return nil, connectError(err)
		}
	}
	return connect.NewResponse(resp), nil
}

// ActivateGroup assigns rotation positions and generates the first cycle.
// Deposits normally activate a group on their own; this is the explicit path.
func (s *GroupService) ActivateGroup(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.ActivateGroupResponse], error) {
	resp := &pb.ActivateGroupResponse{}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		group, err := tx.GetGroup(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		if group.Status != models.GroupForming {
			return fmt.Errorf("%w: group %s is %s", models.ErrInvalidState, group.ID, group.Status)
		}
		c, err := cycle.Start(ctx, tx, group.ID, s.nowFn())
		if err != nil {
			return err
		}
		if group, err = tx.GetGroup(ctx, group.ID); err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		resp.Group = toPBGroup(group)
		resp.Members = toPBMembers(members)
		resp.Cycle, err = s.loadCycle(ctx, tx, c)
		return err
	})
	if err != nil {
		slog.Warn("ActivateGroup failed", "group_id", req.Msg.GroupId, "error", err)
		return nil, connectError(err)
	}

	slog.Info("Group activated", "group_id", req.Msg.GroupId)
	return connect.NewResponse(resp), nil
}

// PauseGroup stops cycle generation and penalty evaluation for a group.
func (s *GroupService) PauseGroup(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.GroupResponse], error) {
	return s.transition(ctx, req.Msg.GroupId, models.GroupPaused, nil)
}

// ResumeGroup reactivates a paused group. A cycle that closed while the group
// was paused is followed by the next one, or by completion.
func (s *GroupService) ResumeGroup(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.GroupResponse], error) {
	return s.transition(ctx, req.Msg.GroupId, models.GroupActive, func(tx storage.Tx, now time.Time) error {
		_, _, err := cycle.Advance(ctx, tx, req.Msg.GroupId, now)
		return err
	})
}

// CancelGroup is terminal and manual. Ledger rows are kept as they are.
func (s *GroupService) CancelGroup(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.GroupResponse], error) {
	return s.transition(ctx, req.Msg.GroupId, models.GroupCancelled, nil)
}

func (s *GroupService) transition(ctx context.Context, groupID string, to models.GroupStatus, after func(tx storage.Tx, now time.Time) error) (*connect.Response[pb.GroupResponse], error) {
	var group *models.Group
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		if err := tx.SetGroupStatus(ctx, groupID, current.Status, to, now); err != nil {
			return err
		}
		if after != nil {
			if err := after(tx, now); err != nil {
				return err
			}
		}
		group, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		slog.Warn("Group status change failed", "group_id", groupID, "to", to, "error", err)
		return nil, connectError(err)
	}

	slog.Info("Group status changed", "group_id", groupID, "status", group.Status)
	return connect.NewResponse(&pb.GroupResponse{Group: toPBGroup(group)}), nil
}

// GetGroup returns a group with its members and current cycle.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.GetGroupResponse], error) {
	resp := &pb.GetGroupResponse{}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		group, err := tx.GetGroup(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		members, err := tx.ListMembers(ctx, group.ID)
		if err != nil {
			return err
		}
		resp.Group = toPBGroup(group)
		resp.Members = toPBMembers(members)

		current, err := tx.CurrentCycle(ctx, group.ID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.CurrentCycle, err = s.loadCycle(ctx, tx, current)
		return err
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(resp), nil
}

// ListCycles returns every cycle of a group with contributions and payout.
func (s *GroupService) ListCycles(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.ListCyclesResponse], error) {
	resp := &pb.ListCyclesResponse{Cycles: []*pb.Cycle{}}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGroup(ctx, req.Msg.GroupId); err != nil {
			return err
		}
		cycles, err := tx.ListCycles(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		for _, c := range cycles {
			converted, err := s.loadCycle(ctx, tx, c)
			if err != nil {
				return err
			}
			resp.Cycles = append(resp.Cycles, converted)
		}
		return nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(resp), nil
}

// ListPenalties returns every penalty raised in a group.
func (s *GroupService) ListPenalties(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.ListPenaltiesResponse], error) {
	resp := &pb.ListPenaltiesResponse{Penalties: []*pb.Penalty{}}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGroup(ctx, req.Msg.GroupId); err != nil {
			return err
		}
		penalties, err := tx.ListPenalties(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		for _, p := range penalties {
			resp.Penalties = append(resp.Penalties, toPBPenalty(p))
		}
		return nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(resp), nil
}

// ListTransactions returns the group's ledger in append order.
func (s *GroupService) ListTransactions(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.ListTransactionsResponse], error) {
	resp := &pb.ListTransactionsResponse{Transactions: []*pb.Transaction{}}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetGroup(ctx, req.Msg.GroupId); err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, req.Msg.GroupId)
		if err != nil {
			return err
		}
		for _, t := range txns {
			resp.Transactions = append(resp.Transactions, toPBTransaction(t))
		}
		return nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(resp), nil
}

// GetReconciliation checks the ledger against entity rows and returns member
// and cycle balances.
func (s *GroupService) GetReconciliation(ctx context.Context, req *connect.Request[pb.GroupRequest]) (*connect.Response[pb.GetReconciliationResponse], error) {
	var in calculator.LedgerInput
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		in, err = loadLedger(ctx, tx, req.Msg.GroupId)
		return err
	})
	if err != nil {
		return nil, connectError(err)
	}

	report := calculator.Reconcile(in)
	if len(report.Discrepancies) > 0 {
		slog.Warn("Ledger discrepancies found",
			"group_id", req.Msg.GroupId,
			"count", len(report.Discrepancies),
			"first", report.Discrepancies[0],
		)
	}
	return connect.NewResponse(toPBReconciliation(report)), nil
}

// WaiveContribution releases a member from a cycle's contribution.
func (s *GroupService) WaiveContribution(ctx context.Context, req *connect.Request[pb.WaiveContributionRequest]) (*connect.Response[pb.WaiveContributionResponse], error) {
	res, err := s.applier.WaiveContribution(ctx, req.Msg.ContributionId)
	if err != nil {
		slog.Warn("WaiveContribution failed", "contribution_id", req.Msg.ContributionId, "error", err)
		return nil, connectError(err)
	}

	resp := &pb.WaiveContributionResponse{}
	if res.Payout != nil {
		resp.Payout = toPBPayout(res.Payout)
	}
	if res.Cycle != nil {
		err := s.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			resp.Cycle, err = s.loadCycle(ctx, tx, res.Cycle)
			return err
		})
		if err != nil {
			return nil, connectError(err)
		}
	}
	return connect.NewResponse(resp), nil
}

// WaivePenalty cancels an applied penalty.
func (s *GroupService) WaivePenalty(ctx context.Context, req *connect.Request[pb.WaivePenaltyRequest]) (*connect.Response[pb.WaivePenaltyResponse], error) {
	penalty, err := s.applier.WaivePenalty(ctx, req.Msg.PenaltyId)
	if err != nil {
		slog.Warn("WaivePenalty failed", "penalty_id", req.Msg.PenaltyId, "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&pb.WaivePenaltyResponse{Penalty: toPBPenalty(penalty)}), nil
}

// RetryPayout re-opens a failed payout and sends one fresh attempt. A gateway
// failure on that attempt is reported through the returned payout's status
// and failure reason.
func (s *GroupService) RetryPayout(ctx context.Context, req *connect.Request[pb.RetryPayoutRequest]) (*connect.Response[pb.RetryPayoutResponse], error) {
	p, err := s.dispatcher.Retry(ctx, req.Msg.PayoutId)
	if p == nil {
		return nil, connectError(err)
	}
	if err != nil {
		slog.Warn("Operator retry attempt failed", "payout_id", p.ID, "status", p.Status, "error", err)
	}
	return connect.NewResponse(&pb.RetryPayoutResponse{Payout: toPBPayout(p)}), nil
}

// loadCycle converts c with its contributions, payout and derived recipient.
func (s *GroupService) loadCycle(ctx context.Context, tx storage.Tx, c *models.Cycle) (*pb.Cycle, error) {
	members, err := tx.ListMembers(ctx, c.GroupID)
	if err != nil {
		return nil, err
	}
	contributions, err := tx.ListContributions(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	p, err := tx.GetPayoutByCycle(ctx, c.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return toPBCycle(c, members, contributions, p), nil
}

// loadLedger reads everything reconciliation needs about a group.
func loadLedger(ctx context.Context, tx storage.Tx, groupID string) (calculator.LedgerInput, error) {
	var in calculator.LedgerInput
	if _, err := tx.GetGroup(ctx, groupID); err != nil {
		return in, err
	}

	var err error
	if in.Members, err = tx.ListMembers(ctx, groupID); err != nil {
		return in, err
	}
	if in.Cycles, err = tx.ListCycles(ctx, groupID); err != nil {
		return in, err
	}
	for _, c := range in.Cycles {
		contributions, err := tx.ListContributions(ctx, c.ID)
		if err != nil {
			return in, err
		}
		in.Contributions = append(in.Contributions, contributions...)
	}
	if in.Penalties, err = tx.ListPenalties(ctx, groupID); err != nil {
		return in, err
	}
	if in.Payouts, err = tx.ListPayouts(ctx, groupID); err != nil {
		return in, err
	}
	if in.Transactions, err = tx.ListTransactions(ctx, groupID); err != nil {
		return in, err
	}
	return in, nil
}
