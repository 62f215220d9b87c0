package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Excalium-OG/DeckForge/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the game services.
const (
	ActionTradeRequested = "trade.requested"
	ActionTradeCompleted = "trade.completed"
	ActionTradeReverted  = "trade.reverted"
	ActionTradeCancelled = "trade.cancelled"
	ActionTradeExpired   = "trade.expired"
	ActionMerge          = "card.merge"
	ActionRecycle        = "card.recycle"
	ActionGrant          = "card.grant"
	ActionPackClaim      = "pack.claim"
	ActionPackGrant      = "pack.grant"
	ActionPackOpen       = "pack.open"
)

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID    string
	PlayerID   *int64
	Action     string
	Subject    string
	Request    interface{}
	Response   interface{}
	Error      string
	DurationMs int
}

// Recorder accepts audit entries.
type Recorder interface {
	Log(entry AuditEntry)
}

// Nop discards every entry.
type Nop struct{}

// Log implements Recorder.
func (Nop) Log(AuditEntry) {}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry AuditEntry) {
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		PlayerID:   entry.PlayerID,
		Action:     entry.Action,
		Subject:    entry.Subject,
		Request:    marshal(entry.Request),
		Response:   marshal(entry.Response),
		Error:      entry.Error,
		DurationMs: entry.DurationMs,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action), zap.String("subject", entry.Subject))
	}
}

// BySubject returns the most recent entries for a trade or instance id.
func (svc *Service) BySubject(ctx context.Context, subject string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func marshal(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err), zap.Int("size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
