package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"

	"crowdcoin/internal/campaign"
	"crowdcoin/internal/session"
	"crowdcoin/internal/txlog"
	"crowdcoin/internal/view"
)

const journalPageSize = 100

type indexPage struct {
	Campaigns []common.Address
	Error     string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	page := indexPage{}
	campaigns, err := s.svc.GetCampaigns(ctx)
	if err != nil {
		page.Error = err.Error()
	}
	page.Campaigns = campaigns
	s.render(w, r, http.StatusOK, "index", "Open Campaigns", page, false)
}

type newCampaignPage struct {
	MinContribution string
	Error           string
}

func (s *Server) handleNewCampaign(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "campaign_new", "Create a New Campaign", newCampaignPage{}, false)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	page := newCampaignPage{MinContribution: r.FormValue("minContribution")}

	ctx, cancel := s.callContext(r.Context())
	defer cancel()
	if _, err := s.svc.CreateCampaign(ctx, page.MinContribution, sess.Account()); err != nil {
		page.Error = err.Error()
		s.render(w, r, http.StatusUnprocessableEntity, "campaign_new", "Create a New Campaign", page, false)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type notFoundPage struct {
	Message string
	Address string
	Error   string
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, message, address string, err error) {
	page := notFoundPage{Message: message, Address: address}
	if err != nil {
		page.Error = err.Error()
	}
	s.render(w, r, http.StatusNotFound, "not_found", "Not found", page, false)
}

// lookup binds the {address} URL parameter or renders the not found page.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, message string) (*campaign.Campaign, bool) {
	address := chi.URLParam(r, "address")
	ctx, cancel := s.callContext(r.Context())
	defer cancel()
	c, err := s.svc.GetCampaignByAddress(ctx, address)
	if err != nil {
		s.notFound(w, r, message, address, err)
		return nil, false
	}
	return c, true
}

type showCampaignPage struct {
	Address common.Address
	Summary campaign.Summary
	Form    view.ContributeForm
}

func contributeKey(c *campaign.Campaign, account common.Address) string {
	return "contribute:" + c.Address.Hex() + ":" + account.Hex()
}

func (s *Server) contributeView(sess *session.Session, c *campaign.Campaign, account common.Address, fresh bool) *view.Component[view.ContributeForm] {
	key := contributeKey(c, account)
	if fresh {
		sess.Unmount()
	}
	d := sess.Mount(key, func() session.Disposer {
		return view.NewComponent(s.baseCtx, view.NewContributeForm(c.Address), view.UpdateContribute,
			view.ContributeEffect(s.svc, c, account, s.cfg.Chain.CallTimeout), s.clock)
	})
	return d.(*view.Component[view.ContributeForm])
}

func (s *Server) handleShowCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r, "Could not find campaign details for address")
	if !ok {
		return
	}
	sess := session.FromContext(r.Context())
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	summary, err := s.svc.GetCampaignSummary(ctx, c)
	if err != nil {
		s.notFound(w, r, "Could not find campaign details for address", c.Address.Hex(), err)
		return
	}
	account, _ := s.viewer(ctx, sess)
	form := s.contributeView(sess, c, account, !isPoll(r)).Model()

	page := showCampaignPage{Address: c.Address, Summary: summary, Form: form}
	s.render(w, r, http.StatusOK, "campaign_show", "Campaign Details", page, form.Visible())
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r, "Could not find campaign for address")
	if !ok {
		return
	}
	sess := session.FromContext(r.Context())
	account, _ := s.viewer(r.Context(), sess)
	comp := s.contributeView(sess, c, account, false)
	comp.Dispatch(view.ContributeSubmitted{Value: strings.TrimSpace(r.FormValue("value"))})
	http.Redirect(w, r, pollURL("/campaigns/"+url.PathEscape(c.Address.Hex())), http.StatusSeeOther)
}

type requestsPage struct {
	Address common.Address
	Model   view.RequestsPage
}

func requestsKey(c *campaign.Campaign, account common.Address) string {
	return "requests:" + c.Address.Hex() + ":" + account.Hex()
}

// requestsView returns the mounted request listing, loading and mounting a
// fresh one when fresh is set or nothing is mounted.
func (s *Server) requestsView(ctx context.Context, sess *session.Session, c *campaign.Campaign, fresh bool) (*view.Component[view.RequestsPage], error) {
	account, hasAccount := s.viewer(ctx, sess)
	key := requestsKey(c, account)
	if !fresh {
		if d, ok := sess.Mounted(key); ok {
			return d.(*view.Component[view.RequestsPage]), nil
		}
	}

	model, err := s.loadRequests(ctx, c, account, hasAccount)
	if err != nil {
		return nil, err
	}
	sess.Unmount()
	d := sess.Mount(key, func() session.Disposer {
		return view.NewComponent(s.baseCtx, model, view.UpdateRequests,
			view.RequestsEffect(s.svc, c, account, s.cfg.Chain.CallTimeout), s.clock)
	})
	return d.(*view.Component[view.RequestsPage]), nil
}

func (s *Server) loadRequests(ctx context.Context, c *campaign.Campaign, account common.Address, hasAccount bool) (view.RequestsPage, error) {
	numApprovers, err := s.svc.NumApprovers(ctx, c)
	if err != nil {
		return view.RequestsPage{}, err
	}
	if !hasAccount {
		requests, err := s.svc.GetCampaignRequests(ctx, c)
		if err != nil {
			return view.RequestsPage{}, err
		}
		return view.NewRequestsPage(c.Address, account, false, numApprovers, requests), nil
	}

	isApprover, err := s.svc.IsApprover(ctx, c, account)
	if err != nil {
		return view.RequestsPage{}, err
	}
	var requests []campaign.Request
	if isApprover {
		requests, err = s.svc.GetCampaignRequestsForUser(ctx, c, account)
	} else {
		requests, err = s.svc.GetCampaignRequests(ctx, c)
	}
	if err != nil {
		return view.RequestsPage{}, err
	}
	return view.NewRequestsPage(c.Address, account, isApprover, numApprovers, requests), nil
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r, "Could not load campaign requests for address")
	if !ok {
		return
	}
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	comp, err := s.requestsView(ctx, session.FromContext(r.Context()), c, !isPoll(r))
	if err != nil {
		s.notFound(w, r, "Could not load campaign requests for address", c.Address.Hex(), err)
		return
	}
	model := comp.Model()
	s.render(w, r, http.StatusOK, "requests", "Requests", requestsPage{Address: c.Address, Model: model}, model.InFlight())
}

func (s *Server) handleRowAction(w http.ResponseWriter, r *http.Request, msg func(int) view.Msg) {
	c, ok := s.lookup(w, r, "Could not load campaign requests for address")
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 {
		http.Error(w, "invalid request index", http.StatusBadRequest)
		return
	}
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	comp, err := s.requestsView(ctx, session.FromContext(r.Context()), c, false)
	if err != nil {
		s.notFound(w, r, "Could not load campaign requests for address", c.Address.Hex(), err)
		return
	}
	comp.Dispatch(msg(idx))
	http.Redirect(w, r, pollURL(requestsPath(c.Address)), http.StatusSeeOther)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleRowAction(w, r, func(i int) view.Msg { return view.ApproveClicked{Index: i} })
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.handleRowAction(w, r, func(i int) view.Msg { return view.FinalizeClicked{Index: i} })
}

func requestsPath(addr common.Address) string {
	return "/campaigns/" + url.PathEscape(addr.Hex()) + "/requests"
}

type newRequestPage struct {
	Address     common.Address
	Description string
	Amount      string
	Recipient   string
	Error       string
}

func (s *Server) handleNewRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r, "Could not find campaign for address")
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "request_new", "Create a New Request", newRequestPage{Address: c.Address}, false)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r, "Could not find campaign for address")
	if !ok {
		return
	}
	sess := session.FromContext(r.Context())
	page := newRequestPage{
		Address:     c.Address,
		Description: r.FormValue("description"),
		Amount:      r.FormValue("amount"),
		Recipient:   r.FormValue("recipient"),
	}

	ctx, cancel := s.callContext(r.Context())
	defer cancel()
	_, err := s.svc.CreateCampaignRequest(ctx, c, campaign.RequestInput{
		Description: page.Description,
		Amount:      page.Amount,
		Recipient:   page.Recipient,
	}, sess.Account())
	if err != nil {
		page.Error = err.Error()
		s.render(w, r, http.StatusUnprocessableEntity, "request_new", "Create a New Request", page, false)
		return
	}
	http.Redirect(w, r, requestsPath(c.Address), http.StatusSeeOther)
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	raw := strings.TrimSpace(r.FormValue("account"))
	if !common.IsHexAddress(raw) {
		http.Error(w, "invalid account", http.StatusBadRequest)
		return
	}
	want := common.HexToAddress(raw)

	accounts, err := s.svc.GetAccounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	for _, a := range accounts {
		if a == want {
			sess.SetAccount(a)
			http.Redirect(w, r, backTo(r), http.StatusSeeOther)
			return
		}
	}
	http.Error(w, fmt.Sprintf("account %s is not authorized", want.Hex()), http.StatusForbidden)
}

// backTo is the local page the form was posted from.
func backTo(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || !strings.HasPrefix(ref.Path, "/") {
		return "/"
	}
	return ref.Path
}

type transactionsPage struct {
	Records []txlog.Record
	Error   string
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	page := transactionsPage{}
	records, err := s.svc.Journal(r.Context(), journalPageSize)
	if err != nil {
		page.Error = err.Error()
	}
	page.Records = records
	s.render(w, r, http.StatusOK, "transactions", "Transactions", page, false)
}

