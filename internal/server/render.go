package server

import (
	"bytes"
	"embed"
	"html/template"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"crowdcoin/internal/campaign"
	"crowdcoin/internal/session"
	"crowdcoin/internal/view"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"index", "campaign_new", "campaign_show", "not_found",
	"requests", "request_new", "transactions",
}

var funcs = template.FuncMap{
	"ether": campaign.FromWei,
	"add1":  func(i int) int { return i + 1 },
	"finalizable": func(r view.RowState, numApprovers *big.Int) bool {
		return view.Finalizable(r.Request.ApprovalCount, numApprovers)
	},
	"canApprove": func(r view.RowState, isApprover bool) bool {
		return r.CanApprove(isApprover)
	},
	"canFinalize": func(r view.RowState, numApprovers *big.Int) bool {
		return r.CanFinalize(numApprovers)
	},
	"when": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
}

func mustParsePages() map[string]*template.Template {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pages[name] = template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html"))
	}
	return pages
}

// layout is the data every page gets.
type layout struct {
	Title    string
	Accounts []common.Address
	Account  common.Address
	ReadOnly bool
	// Refresh makes the page poll itself every N seconds when set.
	Refresh    int
	RefreshURL string
	Page       interface{}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, page interface{}, refresh bool) {
	sess := session.FromContext(r.Context())
	data := layout{
		Title:    title,
		ReadOnly: s.chain != nil && !s.chain.CanSend(),
		Page:     page,
	}
	if accounts, err := s.svc.GetAccounts(r.Context()); err == nil {
		data.Accounts = accounts
	}
	if sess != nil {
		data.Account, _ = s.viewer(r.Context(), sess)
	}
	if refresh {
		data.Refresh = int(s.cfg.Service.RefreshInterval / time.Second)
		if data.Refresh < 1 {
			data.Refresh = 1
		}
		data.RefreshURL = pollURL(r.URL.Path)
	}

	var buf bytes.Buffer
	if err := s.pages[name].Execute(&buf, data); err != nil {
		s.log.Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func pollURL(path string) string {
	return path + "?poll=1"
}

func isPoll(r *http.Request) bool {
	return r.URL.Query().Get("poll") != ""
}
