package service

import (
	"fmt"
	"time"

	"github.com/mmynk/ajo/internal/calculator"
	"github.com/mmynk/ajo/internal/config"
	"github.com/mmynk/ajo/internal/models"
	pb "github.com/mmynk/ajo/pkg/api"
)

func toPBPolicy(p models.PenaltyPolicy) *pb.PenaltyPolicy {
	return &pb.PenaltyPolicy{
		Type:        string(p.Type),
		Value:       p.Value,
		GracePeriod: p.GracePeriod.String(),
		Window:      p.Window.String(),
	}
}

// fromPBPolicy parses a request policy, falling back to the configured
// default when the request carries none.
func fromPBPolicy(p *pb.PenaltyPolicy, fallback models.PenaltyPolicy) (models.PenaltyPolicy, error) {
	if p == nil {
		return fallback, nil
	}
	policy := models.PenaltyPolicy{Type: models.PenaltyType(p.Type), Value: p.Value}
	var err error
	if p.GracePeriod != "" {
		if policy.GracePeriod, err = time.ParseDuration(p.GracePeriod); err != nil {
			return policy, fmt.Errorf("%w: grace period: %v", models.ErrInvalidInput, err)
		}
	}
	if p.Window != "" {
		if policy.Window, err = time.ParseDuration(p.Window); err != nil {
			return policy, fmt.Errorf("%w: penalty window: %v", models.ErrInvalidInput, err)
		}
	}
	return policy, nil
}

// groupFromRequest builds a forming group, filling unset policy fields from
// the server defaults.
func groupFromRequest(req *pb.CreateGroupRequest, defaults config.PolicyConfig) (*models.Group, error) {
	group := &models.Group{
		Name:               req.Name,
		ContributionAmount: req.ContributionAmount,
		Cadence:            models.Cadence(req.Cadence),
		Capacity:           int(req.Capacity),
		DepositAmount:      defaults.DepositAmount,
		PlatformFeeBps:     defaults.PlatformFeeBps,
		Status:             models.GroupForming,
	}
	if req.DepositAmount != nil {
		group.DepositAmount = *req.DepositAmount
	}
	if req.PlatformFeeBps != nil {
		group.PlatformFeeBps = *req.PlatformFeeBps
	}
	policy, err := fromPBPolicy(req.Penalty, defaults.Penalty)
	if err != nil {
		return nil, err
	}
	group.Penalty = policy
	return group, group.Validate()
}

func toPBGroup(g *models.Group) *pb.Group {
	return &pb.Group{
		Id:                 g.ID,
		Name:               g.Name,
		ContributionAmount: g.ContributionAmount,
		Cadence:            string(g.Cadence),
		Capacity:           int32(g.Capacity),
		DepositAmount:      g.DepositAmount,
		PlatformFeeBps:     g.PlatformFeeBps,
		Penalty:            toPBPolicy(g.Penalty),
		Status:             string(g.Status),
		CreatedBy:          g.CreatedBy,
		CreatedAt:          g.CreatedAt,
		ActivatedAt:        g.ActivatedAt,
		CompletedAt:        g.CompletedAt,
	}
}

func toPBMember(m *models.Member) *pb.Member {
	return &pb.Member{
		Id:                m.ID,
		GroupId:           m.GroupID,
		UserId:            m.UserID,
		DisplayName:       m.DisplayName,
		PayoutDestination: m.PayoutDestination,
		Position:          int32(m.Position),
		Status:            string(m.Status),
		JoinedAt:          m.JoinedAt,
		QualifiedAt:       m.QualifiedAt,
	}
}

func toPBMembers(members []*models.Member) []*pb.Member {
	out := make([]*pb.Member, 0, len(members))
	for _, m := range members {
		out = append(out, toPBMember(m))
	}
	return out
}

func toPBContribution(c *models.Contribution) *pb.Contribution {
	return &pb.Contribution{
		Id:               c.ID,
		MemberId:         c.MemberID,
		Amount:           c.Amount,
		Status:           string(c.Status),
		DueDate:          c.DueDate,
		PaidAt:           c.PaidAt,
		PaymentReference: c.PaymentReference,
	}
}

// toPBCycle converts a cycle. members is used to derive the recipient.
func toPBCycle(c *models.Cycle, members []*models.Member, contributions []*models.Contribution, payout *models.Payout) *pb.Cycle {
	out := &pb.Cycle{
		Id:       c.ID,
		GroupId:  c.GroupID,
		Sequence: int32(c.Sequence),
		DueDate:  c.DueDate,
		Status:   string(c.Status),
	}
	if r := c.Recipient(members); r != nil {
		out.RecipientMemberId = r.ID
	}
	for _, contribution := range contributions {
		out.Contributions = append(out.Contributions, toPBContribution(contribution))
	}
	if payout != nil {
		out.Payout = toPBPayout(payout)
	}
	return out
}

func toPBPenalty(p *models.Penalty) *pb.Penalty {
	return &pb.Penalty{
		Id:             p.ID,
		ContributionId: p.ContributionID,
		MemberId:       p.MemberID,
		Type:           string(p.Type),
		Window:         p.Window,
		Amount:         p.Amount,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
	}
}

func toPBPayout(p *models.Payout) *pb.Payout {
	return &pb.Payout{
		Id:            p.ID,
		CycleId:       p.CycleID,
		MemberId:      p.MemberID,
		Gross:         p.Gross,
		Fee:           p.Fee,
		Amount:        p.Amount,
		Status:        string(p.Status),
		Attempts:      int32(p.Attempts),
		TransferKey:   p.IdempotencyKey(),
		FailureReason: p.FailureReason,
		NextAttemptAt: p.NextAttemptAt,
		CompletedAt:   p.CompletedAt,
	}
}

func toPBTransaction(t *models.Transaction) *pb.Transaction {
	return &pb.Transaction{
		Id:        t.ID,
		CycleId:   t.CycleID,
		MemberId:  t.MemberID,
		Kind:      string(t.Kind),
		SourceId:  t.SourceID,
		Amount:    t.Amount,
		Direction: string(t.Direction),
		Status:    string(t.Status),
		Reference: t.Reference,
		CreatedAt: t.CreatedAt,
	}
}

func toPBReconciliation(r calculator.Report) *pb.GetReconciliationResponse {
	out := &pb.GetReconciliationResponse{
		PoolBalance:   r.PoolBalance,
		Discrepancies: r.Discrepancies,
	}
	for _, m := range r.Members {
		out.Members = append(out.Members, &pb.MemberBalance{
			MemberId:             m.MemberID,
			Contributed:          m.Contributed,
			Received:             m.Received,
			Deposited:            m.Deposited,
			PenaltiesOutstanding: m.PenaltiesOutstanding,
			PenaltiesPaid:        m.PenaltiesPaid,
			NetBalance:           m.NetBalance,
		})
	}
	for _, c := range r.Cycles {
		out.Cycles = append(out.Cycles, &pb.CycleBalance{
			CycleId:   c.CycleID,
			Sequence:  int32(c.Sequence),
			Collected: c.Collected,
			Expected:  c.Expected,
			Disbursed: c.Disbursed,
			Fee:       c.Fee,
		})
	}
	if out.Discrepancies == nil {
		out.Discrepancies = []string{}
	}
	return out
}
