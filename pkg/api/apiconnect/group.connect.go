// Package apiconnect wires the ajo.v1 services to Connect handlers and
// clients. Every handler and client uses api.JSONCodec.
package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/ajo/pkg/api"
)

// GroupServiceName is the fully-qualified name of the GroupService service.
const GroupServiceName = "ajo.v1.GroupService"

// Procedure names of the GroupService RPCs.
const (
	GroupServiceCreateGroupProcedure       = "/ajo.v1.GroupService/CreateGroup"
	GroupServiceJoinGroupProcedure         = "/ajo.v1.GroupService/JoinGroup"
	GroupServiceRecordDepositProcedure     = "/ajo.v1.GroupService/RecordDeposit"
	GroupServiceActivateGroupProcedure     = "/ajo.v1.GroupService/ActivateGroup"
	GroupServicePauseGroupProcedure        = "/ajo.v1.GroupService/PauseGroup"
	GroupServiceResumeGroupProcedure       = "/ajo.v1.GroupService/ResumeGroup"
	GroupServiceCancelGroupProcedure       = "/ajo.v1.GroupService/CancelGroup"
	GroupServiceGetGroupProcedure          = "/ajo.v1.GroupService/GetGroup"
	GroupServiceListCyclesProcedure        = "/ajo.v1.GroupService/ListCycles"
	GroupServiceListPenaltiesProcedure     = "/ajo.v1.GroupService/ListPenalties"
	GroupServiceListTransactionsProcedure  = "/ajo.v1.GroupService/ListTransactions"
	GroupServiceGetReconciliationProcedure = "/ajo.v1.GroupService/GetReconciliation"
	GroupServiceWaiveContributionProcedure = "/ajo.v1.GroupService/WaiveContribution"
	GroupServiceWaivePenaltyProcedure      = "/ajo.v1.GroupService/WaivePenalty"
	GroupServiceRetryPayoutProcedure       = "/ajo.v1.GroupService/RetryPayout"
)

// GroupServiceHandler is implemented by the group and ledger service.
type GroupServiceHandler interface {
	CreateGroup(context.Context, *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error)
	JoinGroup(context.Context, *connect.Request[api.JoinGroupRequest]) (*connect.Response[api.JoinGroupResponse], error)
	RecordDeposit(context.Context, *connect.Request[api.RecordDepositRequest]) (*connect.Response[api.RecordDepositResponse], error)
	ActivateGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ActivateGroupResponse], error)
	PauseGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	ResumeGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	CancelGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	GetGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GetGroupResponse], error)
	ListCycles(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListCyclesResponse], error)
	ListPenalties(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListPenaltiesResponse], error)
	ListTransactions(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListTransactionsResponse], error)
	GetReconciliation(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GetReconciliationResponse], error)
	WaiveContribution(context.Context, *connect.Request[api.WaiveContributionRequest]) (*connect.Response[api.WaiveContributionResponse], error)
	WaivePenalty(context.Context, *connect.Request[api.WaivePenaltyRequest]) (*connect.Response[api.WaivePenaltyResponse], error)
	RetryPayout(context.Context, *connect.Request[api.RetryPayoutRequest]) (*connect.Response[api.RetryPayoutResponse], error)
}

// NewGroupServiceHandler builds an HTTP handler for svc. It returns the path
// to mount the handler on.
func NewGroupServiceHandler(svc GroupServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	handlers := map[string]http.Handler{
		GroupServiceCreateGroupProcedure:       connect.NewUnaryHandler(GroupServiceCreateGroupProcedure, svc.CreateGroup, opts...),
		GroupServiceJoinGroupProcedure:         connect.NewUnaryHandler(GroupServiceJoinGroupProcedure, svc.JoinGroup, opts...),
		GroupServiceRecordDepositProcedure:     connect.NewUnaryHandler(GroupServiceRecordDepositProcedure, svc.RecordDeposit, opts...),
		GroupServiceActivateGroupProcedure:     connect.NewUnaryHandler(GroupServiceActivateGroupProcedure, svc.ActivateGroup, opts...),
		GroupServicePauseGroupProcedure:        connect.NewUnaryHandler(GroupServicePauseGroupProcedure, svc.PauseGroup, opts...),
		GroupServiceResumeGroupProcedure:       connect.NewUnaryHandler(GroupServiceResumeGroupProcedure, svc.ResumeGroup, opts...),
		GroupServiceCancelGroupProcedure:       connect.NewUnaryHandler(GroupServiceCancelGroupProcedure, svc.CancelGroup, opts...),
		GroupServiceGetGroupProcedure:          connect.NewUnaryHandler(GroupServiceGetGroupProcedure, svc.GetGroup, opts...),
		GroupServiceListCyclesProcedure:        connect.NewUnaryHandler(GroupServiceListCyclesProcedure, svc.ListCycles, opts...),
		GroupServiceListPenaltiesProcedure:     connect.NewUnaryHandler(GroupServiceListPenaltiesProcedure, svc.ListPenalties, opts...),
		GroupServiceListTransactionsProcedure:  connect.NewUnaryHandler(GroupServiceListTransactionsProcedure, svc.ListTransactions, opts...),
		GroupServiceGetReconciliationProcedure: connect.NewUnaryHandler(GroupServiceGetReconciliationProcedure, svc.GetReconciliation, opts...),
		GroupServiceWaiveContributionProcedure: connect.NewUnaryHandler(GroupServiceWaiveContributionProcedure, svc.WaiveContribution, opts...),
		GroupServiceWaivePenaltyProcedure:      connect.NewUnaryHandler(GroupServiceWaivePenaltyProcedure, svc.WaivePenalty, opts...),
		GroupServiceRetryPayoutProcedure:       connect.NewUnaryHandler(GroupServiceRetryPayoutProcedure, svc.RetryPayout, opts...),
	}
	return "/" + GroupServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// GroupServiceClient is a client for the GroupService.
type GroupServiceClient interface {
	CreateGroup(context.Context, *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error)
	JoinGroup(context.Context, *connect.Request[api.JoinGroupRequest]) (*connect.Response[api.JoinGroupResponse], error)
	RecordDeposit(context.Context, *connect.Request[api.RecordDepositRequest]) (*connect.Response[api.RecordDepositResponse], error)
	ActivateGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ActivateGroupResponse], error)
	PauseGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	ResumeGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	CancelGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error)
	GetGroup(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GetGroupResponse], error)
	ListCycles(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListCyclesResponse], error)
	ListPenalties(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListPenaltiesResponse], error)
	ListTransactions(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.ListTransactionsResponse], error)
	GetReconciliation(context.Context, *connect.Request[api.GroupRequest]) (*connect.Response[api.GetReconciliationResponse], error)
	WaiveContribution(context.Context, *connect.Request[api.WaiveContributionRequest]) (*connect.Response[api.WaiveContributionResponse], error)
	WaivePenalty(context.Context, *connect.Request[api.WaivePenaltyRequest]) (*connect.Response[api.WaivePenaltyResponse], error)
	RetryPayout(context.Context, *connect.Request[api.RetryPayoutRequest]) (*connect.Response[api.RetryPayoutResponse], error)
}

// NewGroupServiceClient constructs a client for the GroupService at baseURL
// (e.g. http://localhost:8080).
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) GroupServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	return &groupServiceClient{
		createGroup:       connect.NewClient[api.CreateGroupRequest, api.CreateGroupResponse](httpClient, baseURL+GroupServiceCreateGroupProcedure, opts...),
		joinGroup:         connect.NewClient[api.JoinGroupRequest, api.JoinGroupResponse](httpClient, baseURL+GroupServiceJoinGroupProcedure, opts...),
		recordDeposit:     connect.NewClient[api.RecordDepositRequest, api.RecordDepositResponse](httpClient, baseURL+GroupServiceRecordDepositProcedure, opts...),
		activateGroup:     connect.NewClient[api.GroupRequest, api.ActivateGroupResponse](httpClient, baseURL+GroupServiceActivateGroupProcedure, opts...),
		pauseGroup:        connect.NewClient[api.GroupRequest, api.GroupResponse](httpClient, baseURL+GroupServicePauseGroupProcedure, opts...),
		resumeGroup:       connect.NewClient[api.GroupRequest, api.GroupResponse](httpClient, baseURL+GroupServiceResumeGroupProcedure, opts...),
		cancelGroup:       connect.NewClient[api.GroupRequest, api.GroupResponse](httpClient, baseURL+GroupServiceCancelGroupProcedure, opts...),
		getGroup:          connect.NewClient[api.GroupRequest, api.GetGroupResponse](httpClient, baseURL+GroupServiceGetGroupProcedure, opts...),
		listCycles:        connect.NewClient[api.GroupRequest, api.ListCyclesResponse](httpClient, baseURL+GroupServiceListCyclesProcedure, opts...),
		listPenalties:     connect.NewClient[api.GroupRequest, api.ListPenaltiesResponse](httpClient, baseURL+GroupServiceListPenaltiesProcedure, opts...),
		listTransactions:  connect.NewClient[api.GroupRequest, api.ListTransactionsResponse](httpClient, baseURL+GroupServiceListTransactionsProcedure, opts...),
		getReconciliation: connect.NewClient[api.GroupRequest, api.GetReconciliationResponse](httpClient, baseURL+GroupServiceGetReconciliationProcedure, opts...),
		waiveContribution: connect.NewClient[api.WaiveContributionRequest, api.WaiveContributionResponse](httpClient, baseURL+GroupServiceWaiveContributionProcedure, opts...),
		waivePenalty:      connect.NewClient[api.WaivePenaltyRequest, api.WaivePenaltyResponse](httpClient, baseURL+GroupServiceWaivePenaltyProcedure, opts...),
		retryPayout:       connect.NewClient[api.RetryPayoutRequest, api.RetryPayoutResponse](httpClient, baseURL+GroupServiceRetryPayoutProcedure, opts...),
	}
}

type groupServiceClient struct {
	createGroup       *connect.Client[api.CreateGroupRequest, api.CreateGroupResponse]
	joinGroup         *connect.Client[api.JoinGroupRequest, api.JoinGroupResponse]
	recordDeposit     *connect.Client[api.RecordDepositRequest, api.RecordDepositResponse]
	activateGroup     *connect.Client[api.GroupRequest, api.ActivateGroupResponse]
	pauseGroup        *connect.Client[api.GroupRequest, api.GroupResponse]
	resumeGroup       *connect.Client[api.GroupRequest, api.GroupResponse]
	cancelGroup       *connect.Client[api.GroupRequest, api.GroupResponse]
	getGroup          *connect.Client[api.GroupRequest, api.GetGroupResponse]
	listCycles        *connect.Client[api.GroupRequest, api.ListCyclesResponse]
	listPenalties     *connect.Client[api.GroupRequest, api.ListPenaltiesResponse]
	listTransactions  *connect.Client[api.GroupRequest, api.ListTransactionsResponse]
	getReconciliation *connect.Client[api.GroupRequest, api.GetReconciliationResponse]
	waiveContribution *connect.Client[api.WaiveContributionRequest, api.WaiveContributionResponse]
	waivePenalty      *connect.Client[api.WaivePenaltyRequest, api.WaivePenaltyResponse]
	retryPayout       *connect.Client[api.RetryPayoutRequest, api.RetryPayoutResponse]
}

func (c *groupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) JoinGroup(ctx context.Context, req *connect.Request[api.JoinGroupRequest]) (*connect.Response[api.JoinGroupResponse], error) {
	return c.joinGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) RecordDeposit(ctx context.Context, req *connect.Request[api.RecordDepositRequest]) (*connect.Response[api.RecordDepositResponse], error) {
	return c.recordDeposit.CallUnary(ctx, req)
}

func (c *groupServiceClient) ActivateGroup(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.ActivateGroupResponse], error) {
	return c.activateGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) PauseGroup(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error) {
	return c.pauseGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) ResumeGroup(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error) {
	return c.resumeGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) CancelGroup(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.GroupResponse], error) {
	return c.cancelGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) GetGroup(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) ListCycles(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.ListCyclesResponse], error) {
	return c.listCycles.CallUnary(ctx, req)
}

func (c *groupServiceClient) ListPenalties(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.ListPenaltiesResponse], error) {
	return c.listPenalties.CallUnary(ctx, req)
}

func (c *groupServiceClient) ListTransactions(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.ListTransactionsResponse], error) {
	return c.listTransactions.CallUnary(ctx, req)
}

func (c *groupServiceClient) GetReconciliation(ctx context.Context, req *connect.Request[api.GroupRequest]) (*connect.Response[api.GetReconciliationResponse], error) {
	return c.getReconciliation.CallUnary(ctx, req)
}

func (c *groupServiceClient) WaiveContribution(ctx context.Context, req *connect.Request[api.WaiveContributionRequest]) (*connect.Response[api.WaiveContributionResponse], error) {
	return c.waiveContribution.CallUnary(ctx, req)
}

func (c *groupServiceClient) WaivePenalty(ctx context.Context, req *connect.Request[api.WaivePenaltyRequest]) (*connect.Response[api.WaivePenaltyResponse], error) {
	return c.waivePenalty.CallUnary(ctx, req)
}

func (c *groupServiceClient) RetryPayout(ctx context.Context, req *connect.Request[api.RetryPayoutRequest]) (*connect.Response[api.RetryPayoutResponse], error) {
	return c.retryPayout.CallUnary(ctx, req)
}
