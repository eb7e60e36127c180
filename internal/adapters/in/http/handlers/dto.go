// internal/adapters/in/http/handlers/dto.go
package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"savinggrace/internal/application/query"
	"savinggrace/internal/application/usecase"
	"savinggrace/internal/domain/alert"
	auditdom "savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	recipientdom "savinggrace/internal/domain/recipient"
	userdom "savinggrace/internal/domain/user"
)

// ============================================================
// Response DTOs
// - ドメイン型には json タグを持たせない方針なので、
//   外に出す形はすべてここで組み立てる
// ============================================================

type listPayload[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
}

// toListPayload は PageResult をレスポンス形に移し替えます。Items は常に非 nil。
func toListPayload[D, T any](res common.PageResult[D], conv func(D) T) listPayload[T] {
	items := make([]T, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, conv(it))
	}
	return listPayload[T]{
		Items:      items,
		TotalCount: res.TotalCount,
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalPages: res.TotalPages,
	}
}

// ------------------------------------------------------------
// Donor
// ------------------------------------------------------------

type donorDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContactName string    `json:"contactName"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	Notes       string    `json:"notes"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toDonorDTO(d donordom.Donor) donorDTO {
	return donorDTO{
		ID:          d.ID,
		Name:        d.Name,
		ContactName: d.ContactName,
		Email:       d.Email,
		Phone:       d.Phone,
		Address:     d.Address,
		Notes:       d.Notes,
		Status:      string(d.Status),
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// ------------------------------------------------------------
// Donation
// ------------------------------------------------------------

type donationItemDTO struct {
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Quantity        int64      `json:"quantity"`
	Unit            string     `json:"unit"`
	ExpirationDate  *time.Time `json:"expirationDate"`
	StorageLocation string     `json:"storageLocation"`
}

type donationDTO struct {
	ID            string            `json:"id"`
	DonorID       string            `json:"donorId"`
	DonationDate  time.Time         `json:"donationDate"`
	Items         []donationItemDTO `json:"items"`
	LotIDs        []string          `json:"lotIds"`
	TotalQuantity int64             `json:"totalQuantity"`
	ReceiptPath   string            `json:"receiptPath"`
	Notes         string            `json:"notes"`
	Status        string            `json:"status"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

func toDonationDTO(d donationdom.Donation) donationDTO {
	items := make([]donationItemDTO, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, donationItemDTO{
			Name:            it.Name,
			Category:        string(it.Category),
			Quantity:        it.Quantity,
			Unit:            it.Unit,
			ExpirationDate:  it.ExpirationDate,
			StorageLocation: it.StorageLocation,
		})
	}
	lotIDs := d.LotIDs
	if lotIDs == nil {
		lotIDs = []string{}
	}
	return donationDTO{
		ID:            d.ID,
		DonorID:       d.DonorID,
		DonationDate:  d.DonationDate,
		Items:         items,
		LotIDs:        lotIDs,
		TotalQuantity: d.TotalQuantity(),
		ReceiptPath:   d.ReceiptPath,
		Notes:         d.Notes,
		Status:        string(d.Status),
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type recordDonationResultDTO struct {
	Donation donationDTO `json:"donation"`
	Lots     []lotDTO    `json:"lots"`
}

func toRecordDonationResultDTO(res usecase.RecordDonationResult) recordDonationResultDTO {
	lots := make([]lotDTO, 0, len(res.Lots))
	for _, l := range res.Lots {
		lots = append(lots, toLotDTO(l))
	}
	return recordDonationResultDTO{Donation: toDonationDTO(res.Donation), Lots: lots}
}

// ------------------------------------------------------------
// Recipient
// ------------------------------------------------------------

type recipientDTO struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	Phone               string    `json:"phone"`
	Address             string    `json:"address"`
	HouseholdSize       int       `json:"householdSize"`
	DietaryRestrictions []string  `json:"dietaryRestrictions"`
	Notes               string    `json:"notes"`
	Status              string    `json:"status"`
	CreatedBy           string    `json:"createdBy"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func toRecipientDTO(r recipientdom.Recipient) recipientDTO {
	restrictions := r.DietaryRestrictions
	if restrictions == nil {
		restrictions = []string{}
	}
	return recipientDTO{
		ID:                  r.ID,
		Name:                r.Name,
		Email:               r.Email,
		Phone:               r.Phone,
		Address:             r.Address,
		HouseholdSize:       r.HouseholdSize,
		DietaryRestrictions: restrictions,
		Notes:               r.Notes,
		Status:              string(r.Status),
		CreatedBy:           r.CreatedBy,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

// ------------------------------------------------------------
// Inventory lot
// ------------------------------------------------------------

type lotDTO struct {
	ID              string     `json:"id"`
	DonationID      string     `json:"donationId"`
	ItemName        string     `json:"itemName"`
	Category        string     `json:"category"`
	Unit            string     `json:"unit"`
	Total           int64      `json:"total"`
	Available       int64      `json:"available"`
	Reserved        int64      `json:"reserved"`
	Distributed     int64      `json:"distributed"`
	Removed         int64      `json:"removed"`
	ExpirationDate  *time.Time `json:"expirationDate"`
	StorageLocation string     `json:"storageLocation"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toLotDTO(l lotdom.Lot) lotDTO {
	return lotDTO{
		ID:              l.ID,
		DonationID:      l.DonationID,
		ItemName:        l.ItemName,
		Category:        string(l.Category),
		Unit:            l.Unit,
		Total:           l.Total,
		Available:       l.Available,
		Reserved:        l.Reserved,
		Distributed:     l.Distributed,
		Removed:         l.Removed,
		ExpirationDate:  l.ExpirationDate,
		StorageLocation: l.StorageLocation,
		Version:         l.Version,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type alertDTO struct {
	Kind           string     `json:"kind"`
	LotID          string     `json:"lotId"`
	ItemName       string     `json:"itemName"`
	Category       string     `json:"category"`
	Available      int64      `json:"available"`
	ExpirationDate *time.Time `json:"expirationDate"`
	Message        string     `json:"message"`
}

func toAlertDTOs(alerts []alert.Alert) []alertDTO {
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertDTO{
			Kind:           string(a.Kind),
			LotID:          a.LotID,
			ItemName:       a.ItemName,
			Category:       string(a.Category),
			Available:      a.Available,
			ExpirationDate: a.ExpirationDate,
			Message:        a.Message,
		})
	}
	return out
}

type dispatchAlertsResultDTO struct {
	Active     int `json:"active"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
}

// ------------------------------------------------------------
// Distribution
// ------------------------------------------------------------

type distributionLineDTO struct {
	LotID      string `json:"lotId"`
	Quantity   int64  `json:"quantity"`
	LotVersion int64  `json:"lotVersion"`
}

type distributionDTO struct {
	ID               string                `json:"id"`
	RecipientID      string                `json:"recipientId"`
	ScheduledDate    time.Time             `json:"scheduledDate"`
	Lines            []distributionLineDTO `json:"lines"`
	ReservationSetID string                `json:"reservationSetId"`
	TotalQuantity    int64                 `json:"totalQuantity"`
	Status           string                `json:"status"`
	Notes            string                `json:"notes"`
	CompletionNotes  string                `json:"completionNotes"`
	FinalizeError    string                `json:"finalizeError"`
	Version          int64                 `json:"version"`
	CreatedBy        string                `json:"createdBy"`
	CreatedAt        time.Time             `json:"createdAt"`
	CompletedBy      string                `json:"completedBy"`
	CompletedAt      *time.Time            `json:"completedAt"`
	CancelledBy      string                `json:"cancelledBy"`
	CancelledAt      *time.Time            `json:"cancelledAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

func toDistributionDTO(d distdom.Distribution) distributionDTO {
	lines := make([]distributionLineDTO, 0, len(d.Lines))
	for _, ln := range d.Lines {
		lines = append(lines, distributionLineDTO{
			LotID:      ln.LotID,
			Quantity:   ln.Quantity,
			LotVersion: ln.LotVersion,
		})
	}
	return distributionDTO{
		ID:               d.ID,
		RecipientID:      d.RecipientID,
		ScheduledDate:    d.ScheduledDate,
		Lines:            lines,
		ReservationSetID: d.ReservationSetID,
		TotalQuantity:    d.TotalQuantity(),
		Status:           string(d.Status),
		Notes:            d.Notes,
		CompletionNotes:  d.CompletionNotes,
		FinalizeError:    d.FinalizeError,
		Version:          d.Version,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt,
		CompletedBy:      d.CompletedBy,
		CompletedAt:      d.CompletedAt,
		CancelledBy:      d.CancelledBy,
		CancelledAt:      d.CancelledAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// ------------------------------------------------------------
// User
// ------------------------------------------------------------

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toUserDTO(u userdom.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
		CreatedBy:   u.CreatedBy,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// ------------------------------------------------------------
// Audit
// ------------------------------------------------------------

type auditEntryDTO struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actorId"`
	Action     string    `json:"action"`
	EntityKind string    `json:"entityKind"`
	EntityID   string    `json:"entityId"`
	Quantity   int64     `json:"quantity"`
	Reason     string    `json:"reason"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toAuditEntryDTO(e auditdom.Entry) auditEntryDTO {
	return auditEntryDTO{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Quantity:   e.Quantity,
		Reason:     e.Reason,
		Note:       e.Note,
		CreatedAt:  e.CreatedAt,
	}
}

// ------------------------------------------------------------
// Reports
// ------------------------------------------------------------

type categoryQuantityDTO struct {
	Category string `json:"category"`
	Quantity int64  `json:"quantity"`
}

func toCategoryQuantityDTOs(rows []query.CategoryQuantityRow) []categoryQuantityDTO {
	out := make([]categoryQuantityDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, categoryQuantityDTO{Category: r.Category, Quantity: r.Quantity})
	}
	return out
}

type dashboardDTO struct {
	GeneratedAt time.Time `json:"generatedAt"`

	TotalAvailable   int64 `json:"totalAvailable"`
	TotalReserved    int64 `json:"totalReserved"`
	TotalDistributed int64 `json:"totalDistributed"`
	TotalRemoved     int64 `json:"totalRemoved"`

	AvailableByCategory []categoryQuantityDTO `json:"availableByCategory"`

	LowStockLots     int `json:"lowStockLots"`
	ExpiringSoonLots int `json:"expiringSoonLots"`
	ExpiredLots      int `json:"expiredLots"`

	ActiveDonors         int `json:"activeDonors"`
	ActiveRecipients     int `json:"activeRecipients"`
	PlannedDistributions int `json:"plannedDistributions"`

	DonationsThisMonth              int `json:"donationsThisMonth"`
	DistributionsCompletedThisMonth int `json:"distributionsCompletedThisMonth"`

	RecentActivity []auditEntryDTO `json:"recentActivity"`
}

func toDashboardDTO(m query.DashboardMetrics) dashboardDTO {
	activity := make([]auditEntryDTO, 0, len(m.RecentActivity))
	for _, e := range m.RecentActivity {
		activity = append(activity, toAuditEntryDTO(e))
	}
	return dashboardDTO{
		GeneratedAt:                     m.GeneratedAt,
		TotalAvailable:                  m.TotalAvailable,
		TotalReserved:                   m.TotalReserved,
		TotalDistributed:                m.TotalDistributed,
		TotalRemoved:                    m.TotalRemoved,
		AvailableByCategory:             toCategoryQuantityDTOs(m.AvailableByCategory),
		LowStockLots:                    m.LowStockLots,
		ExpiringSoonLots:                m.ExpiringSoonLots,
		ExpiredLots:                     m.ExpiredLots,
		ActiveDonors:                    m.ActiveDonors,
		ActiveRecipients:                m.ActiveRecipients,
		PlannedDistributions:            m.PlannedDistributions,
		DonationsThisMonth:              m.DonationsThisMonth,
		DistributionsCompletedThisMonth: m.DistributionsCompletedThisMonth,
		RecentActivity:                  activity,
	}
}

type donorReportRowDTO struct {
	DonorID       string `json:"donorId"`
	DonorName     string `json:"donorName"`
	Donations     int    `json:"donations"`
	TotalQuantity int64  `json:"totalQuantity"`
}

type donationsReportDTO struct {
	From           time.Time             `json:"from"`
	To             time.Time             `json:"to"`
	TotalDonations int                   `json:"totalDonations"`
	TotalQuantity  int64                 `json:"totalQuantity"`
	ByDonor        []donorReportRowDTO   `json:"byDonor"`
	ByCategory     []categoryQuantityDTO `json:"byCategory"`
}

func toDonationsReportDTO(rep query.DonationsReport) donationsReportDTO {
	byDonor := make([]donorReportRowDTO, 0, len(rep.ByDonor))
	for _, row := range rep.ByDonor {
		byDonor = append(byDonor, donorReportRowDTO{
			DonorID:       row.DonorID,
			DonorName:     row.DonorName,
			Donations:     row.Donations,
			TotalQuantity: row.TotalQuantity,
		})
	}
	return donationsReportDTO{
		From:           rep.From,
		To:             rep.To,
		TotalDonations: rep.TotalDonations,
		TotalQuantity:  rep.TotalQuantity,
		ByDonor:        byDonor,
		ByCategory:     toCategoryQuantityDTOs(rep.ByCategory),
	}
}

type recipientReportRowDTO struct {
	RecipientID   string `json:"recipientId"`
	RecipientName string `json:"recipientName"`
	Distributions int    `json:"distributions"`
	TotalQuantity int64  `json:"totalQuantity"`
}

type distributionsReportDTO struct {
	From           time.Time               `json:"from"`
	To             time.Time               `json:"to"`
	Completed      int                     `json:"completed"`
	Cancelled      int                     `json:"cancelled"`
	Planned        int                     `json:"planned"`
	TotalQuantity  int64                   `json:"totalQuantity"`
	ByRecipient    []recipientReportRowDTO `json:"byRecipient"`
	ByStatusCounts map[string]int          `json:"byStatusCounts"`
}

func toDistributionsReportDTO(rep query.DistributionsReport) distributionsReportDTO {
	byRecipient := make([]recipientReportRowDTO, 0, len(rep.ByRecipient))
	for _, row := range rep.ByRecipient {
		byRecipient = append(byRecipient, recipientReportRowDTO{
			RecipientID:   row.RecipientID,
			RecipientName: row.RecipientName,
			Distributions: row.Distributions,
			TotalQuantity: row.TotalQuantity,
		})
	}
	return distributionsReportDTO{
		From:           rep.From,
		To:             rep.To,
		Completed:      rep.Completed,
		Cancelled:      rep.Cancelled,
		Planned:        rep.Planned,
		TotalQuantity:  rep.TotalQuantity,
		ByRecipient:    byRecipient,
		ByStatusCounts: rep.ByStatusCounts,
	}
}

type recipientHistoryDTO struct {
	Recipient     recipientDTO      `json:"recipient"`
	Distributions []distributionDTO `json:"distributions"`
	TotalReceived int64             `json:"totalReceived"`
}

func toRecipientHistoryDTO(h query.RecipientHistory) recipientHistoryDTO {
	ds := make([]distributionDTO, 0, len(h.Distributions))
	for _, d := range h.Distributions {
		ds = append(ds, toDistributionDTO(d))
	}
	return recipientHistoryDTO{
		Recipient:     toRecipientDTO(h.Recipient),
		Distributions: ds,
		TotalReceived: h.TotalReceived,
	}
}

type expiringReportDTO struct {
	WithinDays  int      `json:"withinDays"`
	Lots        []lotDTO `json:"lots"`
	TotalAtRisk int64    `json:"totalAtRisk"`
}

func toExpiringReportDTO(rep query.ExpiringReport) expiringReportDTO {
	lots := make([]lotDTO, 0, len(rep.Lots))
	for _, l := range rep.Lots {
		lots = append(lots, toLotDTO(l))
	}
	return expiringReportDTO{WithinDays: rep.WithinDays, Lots: lots, TotalAtRisk: rep.TotalAtRisk}
}

type categoryImpactRowDTO struct {
	Category string          `json:"category"`
	Quantity int64           `json:"quantity"`
	Pounds   decimal.Decimal `json:"pounds"`
}

type impactReportDTO struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Distributions    int   `json:"distributions"`
	ItemsDistributed int64 `json:"itemsDistributed"`

	PoundsDistributed decimal.Decimal `json:"poundsDistributed"`
	MealsServed       decimal.Decimal `json:"mealsServed"`

	ByCategory []categoryImpactRowDTO `json:"byCategory"`

	HouseholdsReached int `json:"householdsReached"`
	PeopleServed      int `json:"peopleServed"`
}

func toImpactReportDTO(rep query.ImpactReport) impactReportDTO {
	byCategory := make([]categoryImpactRowDTO, 0, len(rep.ByCategory))
	for _, row := range rep.ByCategory {
		byCategory = append(byCategory, categoryImpactRowDTO{
			Category: row.Category,
			Quantity: row.Quantity,
			Pounds:   row.Pounds,
		})
	}
	return impactReportDTO{
		From:              rep.From,
		To:                rep.To,
		Distributions:     rep.Distributions,
		ItemsDistributed:  rep.ItemsDistributed,
		PoundsDistributed: rep.PoundsDistributed,
		MealsServed:       rep.MealsServed,
		ByCategory:        byCategory,
		HouseholdsReached: rep.HouseholdsReached,
		PeopleServed:      rep.PeopleServed,
	}
}

type exportResultDTO struct {
	Kind        string    `json:"kind"`
	Format      string    `json:"format"`
	ObjectPath  string    `json:"objectPath"`
	DownloadURL string    `json:"downloadUrl"`
	Rows        int       `json:"rows"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func toExportResultDTO(res query.ExportResult) exportResultDTO {
	return exportResultDTO{
		Kind:        res.Kind,
		Format:      res.Format,
		ObjectPath:  res.ObjectPath,
		DownloadURL: res.DownloadURL,
		Rows:        res.Rows,
		GeneratedAt: res.GeneratedAt,
	}
}
