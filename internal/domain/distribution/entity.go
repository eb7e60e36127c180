// internal/domain/distribution/entity.go
package distribution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Distribution は distributions コレクションの 1 ドキュメントを表します。
// 受取者（recipient）への 1 回の配布計画で、ロットに対する予約（Line）を
// 順序付きで保持します。
//
// 状態機械:
//   planned → completed | cancelled （どちらも終端）
//
// 期待値：
// - Lines は planned の間だけ不変条件の対象（status が planned を離れたら変更不可）
// - 終端遷移は「version 一致を条件とする条件付き更新」で claim する
//   （複数プロセスが同時に complete しても台帳への確定は 1 回だけ）
type Distribution struct {
	ID            string
	RecipientID   string
	ScheduledDate time.Time

	// 予約行（要求順を維持）。LotVersion は予約時に観測した version（監査用）。
	Lines            []Line
	ReservationSetID string

	Status Status
	Notes  string

	// 完了時の記録
	CompletionNotes string

	// 確定/解放処理が途中で失敗した場合のオペレーター向け記録。
	// 通常フローでは空のまま。
	FinalizeError string

	Version int64

	CreatedBy   string
	CreatedAt   time.Time
	CompletedBy string
	CompletedAt *time.Time
	CancelledBy string
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Line は 1 ロットに対する予約行
type Line struct {
	LotID    string
	Quantity int64
	// LotVersion は Reserve を適用した時点で観測した version。
	// 確定後に再検証はしないが監査のため保持する。
	LotVersion int64
}

// Status は配布の状態
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func IsValidStatus(s Status) bool {
	switch s {
	case StatusPlanned, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal は終端状態（これ以上遷移しない）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const maxNotesLen = 1000

// Domain errors
var (
	ErrNotFound           = errors.New("distribution: not found")
	ErrInvalidID          = errors.New("distribution: invalid id")
	ErrInvalidRecipientID = errors.New("distribution: invalid recipientId")
	ErrInvalidDate        = errors.New("distribution: invalid scheduled date")
	ErrInvalidStatus      = errors.New("distribution: invalid status")
	ErrNotesTooLong       = errors.New("distribution: notes too long")
	ErrNoLines            = errors.New("distribution: at least one allocation line is required")
	ErrInvalidLotID       = errors.New("distribution: invalid lot id in request")
	ErrInvalidQuantity    = errors.New("distribution: line quantity must be at least 1")
	ErrDuplicateLot       = errors.New("distribution: duplicate lot in request")
	ErrVersionConflict    = errors.New("distribution: version conflict")

	// ErrInvalidTransition は終端状態からの不正な操作（Update 等）
	ErrInvalidTransition = errors.New("distribution: invalid status transition")
	// ErrCompletionFailed は claim 後の台帳確定/解放が途中で失敗したことを表します。
	// 自動リトライはせず、オペレーターによる照合対象になります。
	ErrCompletionFailed = errors.New("distribution: completion failed")
)

// TransitionError は「現在どの状態で・どこへ遷移しようとして拒否されたか」を持ちます。
// errors.Is(err, ErrInvalidTransition) が成立します。
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("distribution %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CompletionFailedError は確定（complete）/解放（cancel）処理の途中失敗を表します。
// Committed には台帳へ適用済みの行が入り、照合の手がかりになります。
type CompletionFailedError struct {
	ID        string
	Op        string // "complete" | "cancel"
	Committed []Line
	Failed    Line
	Cause     error
}

func (e *CompletionFailedError) Error() string {
	return fmt.Sprintf("distribution %s: %s failed at lot %s (%d lines already applied): %v",
		e.ID, e.Op, e.Failed.LotID, len(e.Committed), e.Cause)
}

func (e *CompletionFailedError) Unwrap() error { return ErrCompletionFailed }

// NormalizeLines は要求行を検証して正規化（LotID trim）した複製を返します。
// 順序は維持します。違反は最初に見つかったものを返します:
// - 行なし:            ErrNoLines
// - LotID 空:          ErrInvalidLotID
// - 数量 < 1:          ErrInvalidQuantity
// - 同一ロットの重複:  ErrDuplicateLot（黙って合算はしない）
func NormalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	out := make([]Line, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for i, ln := range lines {
		id := strings.TrimSpace(ln.LotID)
		if id == "" {
			return nil, fmt.Errorf("%w: line %d", ErrInvalidLotID, i)
		}
		if ln.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d (lot %s)", ErrInvalidQuantity, i, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: lot %s", ErrDuplicateLot, id)
		}
		seen[id] = struct{}{}
		out = append(out, Line{LotID: id, Quantity: ln.Quantity, LotVersion: ln.LotVersion})
	}
	return out, nil
}

// New は予約成功後に planned な Distribution を作るコンストラクタです。
// id は repo 側で採番する想定のため空でも可。
func New(
	id string,
	recipientID string,
	lines []Line,
	reservationSetID string,
	scheduledDate time.Time,
	notes string,
	createdBy string,
	now time.Time,
) (Distribution, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	norm, err := NormalizeLines(lines)
	if err != nil {
		return Distribution{}, err
	}

	d := Distribution{
		ID:               strings.TrimSpace(id),
		RecipientID:      strings.TrimSpace(recipientID),
		ScheduledDate:    scheduledDate.UTC(),
		Lines:            norm,
		ReservationSetID: strings.TrimSpace(reservationSetID),
		Status:           StatusPlanned,
		Notes:            strings.TrimSpace(notes),
		Version:          1,
		CreatedBy:        strings.TrimSpace(createdBy),
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if err := d.validate(); err != nil {
		return Distribution{}, err
	}
	return d, nil
}

// ========================================
// Behavior
// ========================================

// CanModify は日付・メモ等の編集が可能か（= planned のままか）を返します。
func (d Distribution) CanModify() bool {
	return d.Status == StatusPlanned
}

// MarkCompleted は planned→completed の遷移をエンティティに適用します。
// 永続化側ではこの遷移を条件付き更新（version 一致）として書き込みます。
func (d *Distribution) MarkCompleted(by string, completionNotes string, now time.Time) error {
	if d.Status != StatusPlanned {
		return &TransitionError{ID: d.ID, From: d.Status, To: StatusCompleted}
	}
	if len(completionNotes) > maxNotesLen {
		return ErrNotesTooLong
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t := now.UTC()
	d.Status = StatusCompleted
	d.CompletionNotes = strings.TrimSpace(completionNotes)
	d.CompletedBy = strings.TrimSpace(by)
	d.CompletedAt = &t
	d.UpdatedAt = t
	d.Version++
	return nil
}

// MarkCancelled は planned→cancelled の遷移をエンティティに適用します。
func (d *Distribution) MarkCancelled(by string, now time.Time) error {
	if d.Status != StatusPlanned {
		return &TransitionError{ID: d.ID, From: d.Status, To: StatusCancelled}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t := now.UTC()
	d.Status = StatusCancelled
	d.CancelledBy = strings.TrimSpace(by)
	d.CancelledAt = &t
	d.UpdatedAt = t
	d.Version++
	return nil
}

// Reschedule は planned の間だけ日付・メモを更新します。
func (d *Distribution) Reschedule(date *time.Time, notes *string, now time.Time) error {
	if !d.CanModify() {
		return &TransitionError{ID: d.ID, From: d.Status, To: d.Status}
	}
	if date != nil {
		if date.IsZero() {
			return ErrInvalidDate
		}
		d.ScheduledDate = date.UTC()
	}
	if notes != nil {
		n := strings.TrimSpace(*notes)
		if len(n) > maxNotesLen {
			return ErrNotesTooLong
		}
		d.Notes = n
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// TotalQuantity は全予約行の数量合計を返します。
func (d Distribution) TotalQuantity() int64 {
	var sum int64
	for _, ln := range d.Lines {
		sum += ln.Quantity
	}
	return sum
}

// Validation

func (d Distribution) validate() error {
	if strings.TrimSpace(d.RecipientID) == "" {
		return ErrInvalidRecipientID
	}
	if d.ScheduledDate.IsZero() {
		return ErrInvalidDate
	}
	if !IsValidStatus(d.Status) {
		return ErrInvalidStatus
	}
	if len(d.Notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	if len(d.Lines) == 0 {
		return ErrNoLines
	}
	return nil
}
