package server

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"

	"crowdcoin/internal/campaign"
)

// JSON bodies carry uint256 values as decimal strings.

type summaryJSON struct {
	Address         string `json:"address"`
	MinContribution string `json:"minimumContribution"`
	Balance         string `json:"balance"`
	NumRequests     string `json:"requestsCount"`
	NumApprovers    string `json:"approversCount"`
	Manager         string `json:"manager"`
}

type requestJSON struct {
	Index           int    `json:"index"`
	Description     string `json:"description"`
	Value           string `json:"value"`
	Recipient       string `json:"recipient"`
	Complete        bool   `json:"complete"`
	ApprovalCount   string `json:"approvalCount"`
	HasUserApproved *bool  `json:"hasUserApproved,omitempty"`
}

func addressStrings(in []common.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.Hex()
	}
	return out
}

func decimalOf(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) apiAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.GetAccounts(r.Context())
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": addressStrings(accounts)})
}

func (s *Server) apiCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r.Context())
	defer cancel()
	campaigns, err := s.svc.GetCampaigns(ctx)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"factory":   s.svc.FactoryAddress().Hex(),
		"campaigns": addressStrings(campaigns),
	})
}

func (s *Server) apiSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r.Context())
	defer cancel()
	address := chi.URLParam(r, "address")
	sum, err := s.svc.GetCampaignSummaryByAddress(ctx, address)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryJSON{
		Address:         common.HexToAddress(address).Hex(),
		MinContribution: decimalOf(sum.MinContribution),
		Balance:         decimalOf(sum.Balance),
		NumRequests:     decimalOf(sum.NumRequests),
		NumApprovers:    decimalOf(sum.NumApprovers),
		Manager:         sum.Manager.Hex(),
	})
}

// apiRequests lists the spending requests of a campaign. With ?account= the
// per-account approval flag is included.
func (s *Server) apiRequests(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	c, err := s.svc.GetCampaignByAddress(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeJSONError(w, err)
		return
	}

	var requests []campaign.Request
	raw := r.URL.Query().Get("account")
	if raw != "" {
		if !common.IsHexAddress(raw) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account"})
			return
		}
		requests, err = s.svc.GetCampaignRequestsForUser(ctx, c, common.HexToAddress(raw))
	} else {
		requests, err = s.svc.GetCampaignRequests(ctx, c)
	}
	if err != nil {
		writeJSONError(w, err)
		return
	}

	out := make([]requestJSON, len(requests))
	for i, req := range requests {
		out[i] = requestJSON{
			Index:         req.Index,
			Description:   req.Description,
			Value:         decimalOf(req.Value),
			Recipient:     req.Recipient.Hex(),
			Complete:      req.IsComplete,
			ApprovalCount: decimalOf(req.ApprovalCount),
		}
		if raw != "" {
			approved := req.HasUserApproved
			out[i].HasUserApproved = &approved
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": out})
}

func (s *Server) apiTransactions(w http.ResponseWriter, r *http.Request) {
	limit := journalPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := s.svc.Journal(r.Context(), limit)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}
