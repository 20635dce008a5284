// Package api defines the request and response messages of the ajo.v1 RPC
// services. Messages travel as JSON over Connect.
package api

import "time"

// PenaltyPolicy is a group's late-payment policy. Durations are Go duration
// strings ("48h").
type PenaltyPolicy struct {
	Type        string `json:"type"`
	Value       int64  `json:"value"`
	GracePeriod string `json:"gracePeriod"`
	Window      string `json:"window"`
}

type Group struct {
	Id                 string         `json:"id"`
	Name               string         `json:"name"`
	ContributionAmount int64          `json:"contributionAmount"`
	Cadence            string         `json:"cadence"`
	Capacity           int32          `json:"capacity"`
	DepositAmount      int64          `json:"depositAmount"`
	PlatformFeeBps     int64          `json:"platformFeeBps"`
	Penalty            *PenaltyPolicy `json:"penalty"`
	Status             string         `json:"status"`
	CreatedBy          string         `json:"createdBy"`
	CreatedAt          time.Time      `json:"createdAt"`
	ActivatedAt        *time.Time     `json:"activatedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

type Member struct {
	Id                string     `json:"id"`
	GroupId           string     `json:"groupId"`
	UserId            string     `json:"userId"`
	DisplayName       string     `json:"displayName"`
	PayoutDestination string     `json:"payoutDestination"`
	Position          int32      `json:"position"`
	Status            string     `json:"status"`
	JoinedAt          time.Time  `json:"joinedAt"`
	QualifiedAt       *time.Time `json:"qualifiedAt,omitempty"`
}

type Contribution struct {
	Id               string     `json:"id"`
	MemberId         string     `json:"memberId"`
	Amount           int64      `json:"amount"`
	Status           string     `json:"status"`
	DueDate          time.Time  `json:"dueDate"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	PaymentReference string     `json:"paymentReference,omitempty"`
}

type Cycle struct {
	Id       string    `json:"id"`
	GroupId  string    `json:"groupId"`
	Sequence int32     `json:"sequence"`
	DueDate  time.Time `json:"dueDate"`
	Status   string    `json:"status"`

	// RecipientMemberId is derived from positions.
	RecipientMemberId string          `json:"recipientMemberId"`
	Contributions     []*Contribution `json:"contributions,omitempty"`
	Payout            *Payout         `json:"payout,omitempty"`
}

type Penalty struct {
	Id             string    `json:"id"`
	ContributionId string    `json:"contributionId"`
	MemberId       string    `json:"memberId"`
	Type           string    `json:"type"`
	Window         int64     `json:"window"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Payout struct {
	Id            string     `json:"id"`
	CycleId       string     `json:"cycleId"`
	MemberId      string     `json:"memberId"`
	Gross         int64      `json:"gross"`
	Fee           int64      `json:"fee"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	Attempts      int32      `json:"attempts"`
	TransferKey   string     `json:"transferKey"`
	FailureReason string     `json:"failureReason,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type Transaction struct {
	Id        string    `json:"id"`
	CycleId   string    `json:"cycleId,omitempty"`
	MemberId  string    `json:"memberId,omitempty"`
	Kind      string    `json:"kind"`
	SourceId  string    `json:"sourceId"`
	Amount    int64     `json:"amount"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateGroupRequest struct {
	Name               string `json:"name"`
	ContributionAmount int64  `json:"contributionAmount"`
	Cadence            string `json:"cadence"`
	Capacity           int32  `json:"capacity"`

	// Unset policy fields take the server's configured defaults.
	DepositAmount  *int64         `json:"depositAmount,omitempty"`
	PlatformFeeBps *int64         `json:"platformFeeBps,omitempty"`
	Penalty        *PenaltyPolicy `json:"penalty,omitempty"`
}

type CreateGroupResponse struct {
	Group *Group `json:"group"`
}

type JoinGroupRequest struct {
	GroupId           string `json:"groupId"`
	DisplayName       string `json:"displayName"`
	PayoutDestination string `json:"payoutDestination"`
}

type JoinGroupResponse struct {
	Member *Member `json:"member"`
	// Cycle is set when the join completed a deposit-free group.
	Cycle *Cycle `json:"cycle,omitempty"`
}

type RecordDepositRequest struct {
	MemberId  string `json:"memberId"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

type RecordDepositResponse struct {
	Transaction *Transaction `json:"transaction"`
	Duplicate   bool         `json:"duplicate"`
	Activated   bool         `json:"activated"`
	Cycle       *Cycle       `json:"cycle,omitempty"`
}

type GroupRequest struct {
	GroupId string `json:"groupId"`
}

type GroupResponse struct {
	Group *Group `json:"group"`
}

type ActivateGroupResponse struct {
	Group   *Group    `json:"group"`
	Members []*Member `json:"members"`
	Cycle   *Cycle    `json:"cycle"`
}

type GetGroupResponse struct {
	Group        *Group    `json:"group"`
	Members      []*Member `json:"members"`
	CurrentCycle *Cycle    `json:"currentCycle,omitempty"`
}

type ListCyclesResponse struct {
	Cycles []*Cycle `json:"cycles"`
}

type ListPenaltiesResponse struct {
	Penalties []*Penalty `json:"penalties"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

type MemberBalance struct {
	MemberId             string `json:"memberId"`
	Contributed          int64  `json:"contributed"`
	Received             int64  `json:"received"`
	Deposited            int64  `json:"deposited"`
	PenaltiesOutstanding int64  `json:"penaltiesOutstanding"`
	PenaltiesPaid        int64  `json:"penaltiesPaid"`
	NetBalance           int64  `json:"netBalance"`
}

type CycleBalance struct {
	CycleId   string `json:"cycleId"`
	Sequence  int32  `json:"sequence"`
	Collected int64  `json:"collected"`
	Expected  int64  `json:"expected"`
	Disbursed int64  `json:"disbursed"`
	Fee       int64  `json:"fee"`
}

type GetReconciliationResponse struct {
	Members       []*MemberBalance `json:"members"`
	Cycles        []*CycleBalance  `json:"cycles"`
	PoolBalance   int64            `json:"poolBalance"`
	Discrepancies []string         `json:"discrepancies"`
}

type WaiveContributionRequest struct {
	ContributionId string `json:"contributionId"`
}

type WaiveContributionResponse struct {
	Cycle  *Cycle  `json:"cycle"`
	Payout *Payout `json:"payout,omitempty"`
}

type WaivePenaltyRequest struct {
	PenaltyId string `json:"penaltyId"`
}

type WaivePenaltyResponse struct {
	Penalty *Penalty `json:"penalty"`
}

type RetryPayoutRequest struct {
	PayoutId string `json:"payoutId"`
}

type RetryPayoutResponse struct {
	Payout *Payout `json:"payout"`
}
