package httpin

import (
	"net/http"

	"savinggrace/internal/adapters/in/http/handlers"
	"savinggrace/internal/adapters/in/http/middleware"
	"savinggrace/internal/application/query"
	"savinggrace/internal/application/usecase"
)

// RouterDeps collects all usecases (and other dependencies) injected from main.go.
type RouterDeps struct {
	DonorUC        *usecase.DonorUsecase
	DonationUC     *usecase.DonationUsecase
	RecipientUC    *usecase.RecipientUsecase
	DistributionUC *usecase.DistributionUsecase
	InventoryUC    *usecase.InventoryUsecase
	UserUC         *usecase.UserUsecase

	DashboardQ *query.DashboardQuery
	ReportQ    *query.ReportQuery
	ImpactQ    *query.ImpactQuery
	ExportQ    *query.ExportQuery

	// Auth が nil のときは API を保護なしでマウントする（ローカル開発用）。
	// 本番では main.go が必ず詰める。
	Auth *middleware.AuthMiddleware
}

// NewRouter sets up HTTP routing for all domain endpoints.
func NewRouter(deps RouterDeps) http.Handler {
	api := http.NewServeMux()

	// Usecase が存在するものだけマウントする
	if deps.DonorUC != nil {
		mount(api, "/donors", handlers.NewDonorHandler(deps.DonorUC, deps.DonationUC))
	}

	if deps.DonationUC != nil {
		mount(api, "/donations", handlers.NewDonationHandler(deps.DonationUC, deps.ReportQ))
	}

	if deps.RecipientUC != nil {
		mount(api, "/recipients", handlers.NewRecipientHandler(deps.RecipientUC, deps.ReportQ))
	}

	if deps.DistributionUC != nil {
		mount(api, "/distributions", handlers.NewDistributionHandler(deps.DistributionUC))
	}

	if deps.InventoryUC != nil {
		mount(api, "/inventory", handlers.NewInventoryHandler(deps.InventoryUC))
	}

	if deps.DashboardQ != nil || deps.ReportQ != nil || deps.ImpactQ != nil || deps.ExportQ != nil {
		mount(api, "/reports", handlers.NewReportHandler(deps.DashboardQ, deps.ReportQ, deps.ImpactQ, deps.ExportQ))
	}

	if deps.UserUC != nil {
		mount(api, "/users", handlers.NewUserHandler(deps.UserUC))
	}

	// どのハンドラにも当たらないパスも JSON エンベロープで返す
	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteNotFound(w, "route not found")
	})

	// health は認証対象外。必ず最初に登録する。
	root := http.NewServeMux()
	root.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var protected http.Handler = api
	if deps.Auth != nil {
		protected = deps.Auth.Handler(api)
	}
	root.Handle("/", protected)

	return root
}

// mount は "/donors" と "/donors/" の両方を登録します。
// ServeMux はサブツリー登録だけだと "/donors" を 301 で "/donors/" に
// リダイレクトするため、POST のボディが落ちてしまう。
func mount(mux *http.ServeMux, prefix string, h http.Handler) {
	mux.Handle(prefix, h)
	mux.Handle(prefix+"/", h)
}
