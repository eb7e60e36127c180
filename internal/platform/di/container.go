// internal/platform/di/container.go
package di

import (
	"context"
	"log"

	httpin "savinggrace/internal/adapters/in/http"
	"savinggrace/internal/adapters/in/http/middleware"

	"savinggrace/internal/adapters/out/authn"
	pgout "savinggrace/internal/adapters/out/db"
	fs "savinggrace/internal/adapters/out/firestore"
	gcso "savinggrace/internal/adapters/out/gcs"
	mailadp "savinggrace/internal/adapters/out/mail"
	redisadp "savinggrace/internal/adapters/out/redis"

	"savinggrace/internal/application/allocation"
	"savinggrace/internal/application/query"
	uc "savinggrace/internal/application/usecase"

	auditdom "savinggrace/internal/domain/audit"

	appcfg "savinggrace/internal/infra/config"
)

// ========================================
// Container
// ========================================
//
// main.go から使う依存オブジェクトの束。repositories → usecases/queries →
// handlers の組み立てをここに集約して main を薄く保つ。
type Container struct {
	Config *appcfg.Config
	Infra  *Infra

	// AuthMiddleware 用に userRepo を保持
	UserRepo *fs.UserRepositoryFS

	AuditService *auditdom.Service

	// Application-layer usecases
	DonorUC        *uc.DonorUsecase
	DonationUC     *uc.DonationUsecase
	RecipientUC    *uc.RecipientUsecase
	DistributionUC *uc.DistributionUsecase
	InventoryUC    *uc.InventoryUsecase
	UserUC         *uc.UserUsecase

	// Read-model queries
	DashboardQ *query.DashboardQuery
	ReportQ    *query.ReportQuery
	ImpactQ    *query.ImpactQuery
	ExportQ    *query.ExportQuery

	AuthMW *middleware.AuthMiddleware
}

// ========================================
// NewContainer
// ========================================

func NewContainer(ctx context.Context) (*Container, error) {
	// 1. Load config
	cfg := appcfg.Load()

	// 2. External clients（Firestore 必須・他はベストエフォート）
	infra, err := NewInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 3. Outbound adapters (repositories)
	donorRepo := fs.NewDonorRepositoryFS(infra.Firestore)
	donationRepo := fs.NewDonationRepositoryFS(infra.Firestore)
	lotRepo := fs.NewLotRepositoryFS(infra.Firestore)
	recipientRepo := fs.NewRecipientRepositoryFS(infra.Firestore)
	distRepo := fs.NewDistributionRepositoryFS(infra.Firestore)
	userRepo := fs.NewUserRepositoryFS(infra.Firestore)
	auditRepo := fs.NewAuditRepositoryFS(infra.Firestore)

	// 3.5 監査ログ：正本 Firestore + 任意の Postgres ミラー
	var auditMirror auditdom.MirrorPort
	if infra.PG != nil {
		mirror := pgout.NewAuditMirrorPG(infra.PG)
		if err := mirror.EnsureSchema(ctx); err != nil {
			log.Printf("[di] WARN: audit mirror schema setup failed (mirror disabled): %v", err)
		} else {
			auditMirror = mirror
			log.Printf("[di] audit mirror (postgres) enabled")
		}
	}
	auditSvc := auditdom.NewService(auditRepo, auditMirror)

	// 3.6 任意ポート群（クライアントが無ければ nil のまま渡す）
	var receiptStore uc.ReceiptStore
	var exportStore query.ExportStore
	if infra.GCS != nil {
		receiptStore = gcso.NewReceiptStoreGCS(infra.GCS, cfg.ReceiptsBucket)
		exportStore = gcso.NewExportStoreGCS(infra.GCS, cfg.ExportsBucket)
	}

	var alertGate uc.AlertGate
	if infra.Redis != nil {
		alertGate = redisadp.NewAlertGate(infra.Redis)
	}

	var alertMailer uc.AlertMailer
	if cfg.SendGridAPIKey != "" || cfg.SendGridSecretName != "" {
		alertMailer = mailadp.NewAlertMailerWithSendGrid(ctx, infra.SecretManager)
	} else {
		log.Printf("[di] WARN: SendGrid not configured (alert dispatch disabled)")
	}

	var authAdmin uc.AuthAdmin
	if infra.FirebaseAuth != nil {
		authAdmin = authn.NewFirebaseAuthAdmin(infra.FirebaseAuth)
	}

	// 4. 引当エンジン
	engine := allocation.NewEngine(lotRepo, cfg.AllocMaxAttempts)

	// 5. Application-layer usecases
	donorUC := uc.NewDonorUsecase(donorRepo)
	donationUC := uc.NewDonationUsecase(donationRepo, donorRepo, lotRepo, receiptStore, auditSvc)
	recipientUC := uc.NewRecipientUsecase(recipientRepo)
	distributionUC := uc.NewDistributionUsecase(distRepo, recipientRepo, engine, auditSvc)
	inventoryUC := uc.NewInventoryUsecase(lotRepo, auditSvc, alertGate, alertMailer)
	userUC := uc.NewUserUsecase(userRepo, authAdmin, auditSvc)

	// 6. Read-model queries
	dashboardQ := query.NewDashboardQuery(lotRepo, donationRepo, distRepo, donorRepo, recipientRepo, auditSvc)
	reportQ := query.NewReportQuery(donationRepo, distRepo, lotRepo, donorRepo, recipientRepo)
	impactQ := query.NewImpactQuery(distRepo, lotRepo, recipientRepo)
	exportQ := query.NewExportQuery(donationRepo, distRepo, exportStore)

	// 7. Auth middleware（Firebase Auth が無い場合は nil = 保護なしで起動）
	var authMW *middleware.AuthMiddleware
	if infra.FirebaseAuth != nil {
		authMW = &middleware.AuthMiddleware{
			FirebaseAuth: infra.FirebaseAuth,
			Users:        userRepo,
		}
	} else {
		log.Printf("[di] WARN: firebase auth unavailable; API will run UNPROTECTED")
	}

	// 8. Assemble container
	return &Container{
		Config: cfg,
		Infra:  infra,

		UserRepo:     userRepo,
		AuditService: auditSvc,

		DonorUC:        donorUC,
		DonationUC:     donationUC,
		RecipientUC:    recipientUC,
		DistributionUC: distributionUC,
		InventoryUC:    inventoryUC,
		UserUC:         userUC,

		DashboardQ: dashboardQ,
		ReportQ:    reportQ,
		ImpactQ:    impactQ,
		ExportQ:    exportQ,

		AuthMW: authMW,
	}, nil
}

// ========================================
// RouterDeps
// ========================================

func (c *Container) RouterDeps() httpin.RouterDeps {
	return httpin.RouterDeps{
		DonorUC:        c.DonorUC,
		DonationUC:     c.DonationUC,
		RecipientUC:    c.RecipientUC,
		DistributionUC: c.DistributionUC,
		InventoryUC:    c.InventoryUC,
		UserUC:         c.UserUC,

		DashboardQ: c.DashboardQ,
		ReportQ:    c.ReportQ,
		ImpactQ:    c.ImpactQ,
		ExportQ:    c.ExportQ,

		Auth: c.AuthMW,
	}
}

// ========================================
// Close
// ========================================

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	c.Infra.Close()
	return nil
}
