package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"
)

// maxDownloadPages ограничивает число страниц ленты изменений за цикл
const maxDownloadPages = 20

// Servicer интерфейс движка синхронизации для админского API и CLI
type Servicer interface {
	// Enqueue ставит локальную мутацию в очередь
	Enqueue(ctx context.Context, req EnqueueRequest) (string, error)

	// Write применяет мутацию к локальной таблице и ставит ее в очередь
	Write(ctx context.Context, req EnqueueRequest) (string, error)

	// Sync выполняет один цикл синхронизации
	Sync(ctx context.Context) (*CycleResult, error)

	// Status возвращает снимок состояния
	Status(ctx context.Context) SyncStatus

	// Stats возвращает накопленную статистику
	Stats() SyncStats

	// Queue возвращает записи очереди
	Queue(ctx context.Context, q RecordQuery) ([]*SyncRecord, error)

	// Retry возвращает failed/dead запись в очередь
	Retry(ctx context.Context, id string) error

	// Purge удаляет отправленные записи старше указанного времени
	Purge(ctx context.Context, olderThan time.Time) (int64, error)

	// History возвращает журнал операций
	History(ctx context.Context, q LogQuery) ([]*SyncLogEntry, error)

	// Conflicts возвращает конфликты
	Conflicts(ctx context.Context, unresolvedOnly bool) ([]*SyncConflict, error)

	// ResolveConflict разрешает конфликт вручную
	ResolveConflict(ctx context.Context, id int64, req ResolveRequest) (*SyncConflict, error)

	// Config возвращает текущие настройки
	Config() Config

	// UpdateConfig изменяет и сохраняет настройки
	UpdateConfig(ctx context.Context, fn func(*Config)) (Config, error)
}

// Service оркестратор синхронизации: отправка, загрузка, конфликты
type Service struct {
	repo     Repository
	local    LocalStore
	remote   RemoteClient
	resolver *Resolver
	config   *Holder
	log      *slog.Logger
	now      func() time.Time

	mu        gosync.RWMutex
	isSyncing bool
	state     State
	lastSync  *time.Time
	last      CycleResult
	stats     SyncStats
	hooks     []func(*CycleResult)

	cfgMu gosync.Mutex
}

// NewService создает оркестратор
func NewService(repo Repository, local LocalStore, remote RemoteClient, config *Holder, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		local:    local,
		remote:   remote,
		resolver: NewResolver(repo, local, log),
		config:   config,
		log:      log,
		now:      time.Now,
		state:    StateIdle,
	}
}

// OnCycleComplete регистрирует обработчик завершения цикла
func (s *Service) OnCycleComplete(fn func(*CycleResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// IsSyncing выполняется ли цикл
func (s *Service) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSyncing
}

// Enqueue ставит мутацию в очередь. Работает без сети и без учетных данных.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	rec, err := newRecord(req, s.now())
	if err != nil {
		return "", err
	}

	if err := s.repo.Enqueue(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to enqueue record: %w", err)
	}

	s.log.Debug("record enqueued", "id", rec.ID, "table", rec.Table, "record_id", rec.RecordID, "action", rec.Action)
	return rec.ID, nil
}

// Write применяет мутацию к локальной таблице и ставит ее в очередь
func (s *Service) Write(ctx context.Context, req EnqueueRequest) (string, error) {
	rec, err := newRecord(req, s.now())
	if err != nil {
		return "", err
	}

	if err := s.local.ApplyChange(ctx, rec.Table, rec.RecordID, rec.Action, rec.LocalData); err != nil {
		return "", fmt.Errorf("failed to write local record: %w", err)
	}

	if err := s.repo.Enqueue(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to enqueue record: %w", err)
	}
	return rec.ID, nil
}

// Sync выполняет цикл: отправка, загрузка, разрешение конфликтов.
// Повторный вызов во время цикла возвращает ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context) (*CycleResult, error) {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		s.log.Warn("sync trigger dropped: cycle already running")
		return nil, ErrSyncInProgress
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.state = StateIdle
		s.mu.Unlock()
	}()

	// цикл доводится до конца даже при отмене вызывающего
	ctx = context.WithoutCancel(ctx)
	cfg := s.config.Snapshot()

	result := &CycleResult{
		StartTime: s.now(),
		Errors:    []SyncError{},
	}

	s.log.Info("sync cycle started", "batch_size", cfg.BatchSize, "policy", cfg.ConflictPolicy)

	online := s.preflight(ctx, cfg, result)
	if online {
		s.setState(StateUploading)
		s.upload(ctx, cfg, result)

		s.setState(StateDownloading)
		s.download(ctx, cfg, result)
	}

	s.setState(StateResolvingConflicts)
	s.processConflicts(ctx, cfg, result)

	result.EndTime = s.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = len(result.Errors) == 0

	s.finish(result)

	s.log.Info("sync cycle finished",
		"uploaded", result.Uploaded,
		"failed", result.Failed,
		"dead", result.Dead,
		"downloaded", result.Downloaded,
		"conflicts", result.Conflicts,
		"resolved", result.Resolved,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)

	return result, nil
}

// preflight проверяет доступность сервера. Без сети или ключа цикл работает только локально.
func (s *Service) preflight(ctx context.Context, cfg Config, result *CycleResult) bool {
	if err := s.remote.Health(ctx, cfg); err != nil {
		result.Offline = true
		result.addError("", "health", err, 0)
		if IsAuthError(err) {
			s.log.Warn("remote credentials missing or rejected, running local-only", "error", err)
		} else {
			s.log.Warn("remote unreachable, skipping upload and download", "error", err)
		}
		return false
	}
	return true
}

func (s *Service) upload(ctx context.Context, cfg Config, result *CycleResult) {
	records, err := s.repo.ListPending(ctx, PendingQuery{
		Limit:         cfg.BatchSize,
		IncludeFailed: true,
		MaxRetries:    cfg.RetryAttempts,
		FailedBefore:  s.now().Add(-cfg.RetryDelay()),
	})
	if err != nil {
		result.addError("", "list_pending", err, 0)
		s.log.Error("failed to list pending records", "error", err)
		return
	}

	for _, rec := range records {
		if stop := s.uploadRecord(ctx, cfg, rec, result); stop {
			return
		}
	}
}

// uploadRecord отправляет одну запись. Возвращает true, если фазу нужно прервать.
func (s *Service) uploadRecord(ctx context.Context, cfg Config, rec *SyncRecord, result *CycleResult) bool {
	if err := s.repo.MarkStatus(ctx, StatusUpdate{ID: rec.ID, To: StatusSyncing}); err != nil {
		result.addError(rec.ID, "mark_syncing", err, rec.RetryCount)
		s.log.Error("failed to claim record", "id", rec.ID, "error", err)
		return false
	}

	start := s.now()
	res, err := s.remote.Upload(ctx, cfg, rec)
	if err != nil && errors.Is(err, ErrConflictDetected) && rec.Action == ActionCreate {
		// запись уже есть на сервере: предыдущая попытка дошла, но ответ потерян
		s.log.Info("create rejected as duplicate, retrying as update", "id", rec.ID, "record_id", rec.RecordID)
		retry := *rec
		retry.Action = ActionUpdate
		res, err = s.remote.Upload(ctx, cfg, &retry)
	}
	elapsed := s.now().Sub(start)

	if err == nil {
		var remoteData json.RawMessage
		if res != nil {
			remoteData = res.Data
		}
		if mErr := s.repo.MarkStatus(ctx, StatusUpdate{ID: rec.ID, To: StatusSynced, RemoteData: remoteData}); mErr != nil {
			result.addError(rec.ID, "mark_synced", mErr, rec.RetryCount)
			return false
		}
		s.appendLog(ctx, DirectionOutbound, rec.Table, rec.RecordID, rec.Action, StatusSynced, elapsed, "", time.Time{})
		result.Uploaded++
		return false
	}

	result.addError(rec.ID, "upload", err, rec.RetryCount)

	if IsAuthError(err) {
		// учетные данные не меняются между записями
		if mErr := s.repo.MarkStatus(ctx, StatusUpdate{ID: rec.ID, To: StatusPending, Error: err.Error()}); mErr != nil {
			s.log.Error("failed to release record", "id", rec.ID, "error", mErr)
		}
		s.log.Warn("upload stopped: authentication failed", "error", err)
		return true
	}

	to := StatusFailed
	if IsFatal(err) || rec.RetryCount+1 >= cfg.RetryAttempts {
		to = StatusDead
	}

	if mErr := s.repo.MarkStatus(ctx, StatusUpdate{ID: rec.ID, To: to, Error: err.Error(), IncrementRetry: true}); mErr != nil {
		s.log.Error("failed to mark record", "id", rec.ID, "status", to, "error", mErr)
	}
	s.appendLog(ctx, DirectionOutbound, rec.Table, rec.RecordID, rec.Action, to, elapsed, err.Error(), time.Time{})

	if to == StatusDead {
		result.Dead++
		s.log.Error("record gave up", "id", rec.ID, "table", rec.Table, "retry_count", rec.RetryCount+1, "error", err)
	} else {
		result.Failed++
		s.log.Warn("record upload failed", "id", rec.ID, "table", rec.Table, "retry_count", rec.RetryCount+1, "error", err)
	}

	// сеть пропала: остальные записи не тратят попытки. Ответ сервера с ошибкой касается только этой записи.
	return IsNetworkError(err)
}

func (s *Service) download(ctx context.Context, cfg Config, result *CycleResult) {
	since, err := s.repo.LastInboundSync(ctx)
	if err != nil {
		result.addError("", "download", err, 0)
		s.log.Error("failed to read download cursor", "error", err)
		return
	}

	for page := 0; page < maxDownloadPages; page++ {
		batch, err := s.remote.Download(ctx, cfg, since, cfg.BatchSize)
		if err != nil {
			result.addError("", "download", err, 0)
			s.log.Warn("download failed", "since", since, "error", err)
			return
		}

		next := since
		for i := range batch.Changes {
			s.applyChange(ctx, since, &batch.Changes[i], result)
			if batch.Changes[i].Timestamp.After(next) {
				next = batch.Changes[i].Timestamp
			}
		}

		// пропущенные изменения тоже пишутся в журнал, иначе курсор на них остановится
		for _, sk := range batch.Skipped {
			s.appendLog(ctx, DirectionInbound, sk.Resource, sk.RecordID, sk.Action, StatusSkipped, 0, sk.Reason, sk.Timestamp)
			result.Skipped++
			if sk.Timestamp.After(next) {
				next = sk.Timestamp
			}
		}

		if !batch.HasMore || !next.After(since) {
			return
		}
		since = next
	}
}

// applyChange применяет удаленное изменение или фиксирует конфликт с локальными мутациями
func (s *Service) applyChange(ctx context.Context, cursor time.Time, ch *Change, result *CycleResult) {
	start := s.now()

	collides, err := s.detectConflict(ctx, cursor, ch)
	if err != nil {
		result.addError(ch.RecordID, "detect_conflict", err, 0)
		s.appendLog(ctx, DirectionInbound, ch.Table, ch.RecordID, ch.Action, StatusFailed, s.now().Sub(start), err.Error(), ch.Timestamp)
		return
	}

	if collides {
		if err := s.recordConflict(ctx, ch); err != nil {
			result.addError(ch.RecordID, "save_conflict", err, 0)
			s.appendLog(ctx, DirectionInbound, ch.Table, ch.RecordID, ch.Action, StatusFailed, s.now().Sub(start), err.Error(), ch.Timestamp)
			return
		}
		result.Conflicts++
		s.appendLog(ctx, DirectionInbound, ch.Table, ch.RecordID, ch.Action, StatusConflict, s.now().Sub(start), "", ch.Timestamp)
		return
	}

	if err := s.local.ApplyChange(ctx, ch.Table, ch.RecordID, ch.Action, ch.Data); err != nil {
		result.addError(ch.RecordID, "apply_change", err, 0)
		s.appendLog(ctx, DirectionInbound, ch.Table, ch.RecordID, ch.Action, StatusFailed, s.now().Sub(start), err.Error(), ch.Timestamp)
		return
	}

	result.Downloaded++
	s.appendLog(ctx, DirectionInbound, ch.Table, ch.RecordID, ch.Action, StatusSynced, s.now().Sub(start), "", ch.Timestamp)
}

// detectConflict есть ли у записи локальные мутации, несовместимые с удаленным изменением:
// неотправленные (pending/failed), уже отложенные (conflict) или отправленные после курсора
// раньше удаленного изменения и с другим содержимым. Эхо собственных отправок конфликтом не считается.
func (s *Service) detectConflict(ctx context.Context, cursor time.Time, ch *Change) (bool, error) {
	muts, err := s.repo.FindMutations(ctx, ch.Table, ch.RecordID,
		StatusPending, StatusFailed, StatusConflict, StatusSynced)
	if err != nil {
		return false, err
	}

	for _, m := range muts {
		switch m.Status {
		case StatusPending, StatusFailed, StatusConflict:
			return true, nil
		case StatusSynced:
			if !m.UpdatedAt.After(cursor) || ch.Timestamp.After(m.UpdatedAt) {
				continue
			}
			if ch.Action == ActionDelete && m.Action == ActionDelete {
				continue
			}
			if m.Action == ActionDelete || ch.Action == ActionDelete || !payloadMatches(m.LocalData, ch.Data) {
				return true, nil
			}
		}
	}
	return false, nil
}

// recordConflict откладывает локальные мутации и сохраняет конфликт
func (s *Service) recordConflict(ctx context.Context, ch *Change) error {
	parked, err := s.repo.FindMutations(ctx, ch.Table, ch.RecordID, StatusPending, StatusFailed)
	if err != nil {
		return err
	}

	var localData json.RawMessage
	for _, p := range parked {
		if err := s.repo.MarkStatus(ctx, StatusUpdate{ID: p.ID, To: StatusConflict}); err != nil {
			return err
		}
		localData = p.LocalData
	}

	current, err := s.local.GetRecord(ctx, ch.Table, ch.RecordID)
	switch {
	case err == nil:
		localData = current
	case errors.Is(err, ErrRecordNotFound):
		// локально удалена или еще не создана
		if len(parked) > 0 && parked[len(parked)-1].Action == ActionDelete {
			localData = nil
		}
	default:
		return err
	}

	return s.repo.SaveConflict(ctx, &SyncConflict{
		RecordID:   ch.RecordID,
		Table:      ch.Table,
		Action:     ch.Action,
		LocalData:  localData,
		RemoteData: ch.Data,
		CreatedAt:  s.now(),
	})
}

func (s *Service) processConflicts(ctx context.Context, cfg Config, result *CycleResult) {
	if cfg.ConflictPolicy == PolicyManual {
		return
	}

	conflicts, err := s.repo.ListConflicts(ctx, true)
	if err != nil {
		result.addError("", "list_conflicts", err, 0)
		return
	}

	for _, c := range conflicts {
		ok, err := s.resolver.Auto(ctx, cfg.ConflictPolicy, c)
		if err != nil {
			if !errors.Is(err, ErrConflictResolved) {
				result.addError(c.RecordID, "resolve_conflict", err, 0)
			}
			continue
		}
		if ok {
			result.Resolved++
		}
	}
}

// ApplyRemote применяет изменение, полученное вне цикла (realtime).
// Если у записи есть локальные мутации, возвращает ErrConflictDetected: изменение должен забрать цикл.
func (s *Service) ApplyRemote(ctx context.Context, ch Change) error {
	muts, err := s.repo.FindMutations(ctx, ch.Table, ch.RecordID, StatusPending, StatusSyncing, StatusFailed, StatusConflict)
	if err != nil {
		return err
	}
	if len(muts) > 0 {
		return ErrConflictDetected
	}

	if err := s.local.ApplyChange(ctx, ch.Table, ch.RecordID, ch.Action, ch.Data); err != nil {
		return fmt.Errorf("failed to apply remote change: %w", err)
	}
	return nil
}

// LocalRecord возвращает запись локальной таблицы
func (s *Service) LocalRecord(ctx context.Context, table, recordID string) (json.RawMessage, error) {
	return s.local.GetRecord(ctx, table, recordID)
}

// Status возвращает снимок состояния с актуальными счетчиками очереди
func (s *Service) Status(ctx context.Context) SyncStatus {
	s.mu.RLock()
	st := SyncStatus{
		IsRunning: s.isSyncing,
		State:     s.state,
		LastSync:  s.lastSync,
		Synced:    s.last.Uploaded + s.last.Downloaded,
		Failed:    s.last.Failed + s.last.Dead,
		Conflicts: s.last.Conflicts,
		Errors:    append([]SyncError{}, s.last.Errors...),
	}
	s.mu.RUnlock()

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.log.Warn("failed to count queue", "error", err)
		return st
	}
	st.Pending = counts[StatusPending] + counts[StatusFailed]
	if open, err := s.repo.ListConflicts(ctx, true); err == nil {
		st.Conflicts = len(open)
	}
	return st
}

// Stats возвращает накопленную статистику
func (s *Service) Stats() SyncStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Service) Queue(ctx context.Context, q RecordQuery) ([]*SyncRecord, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", q.Status)}
	}
	return s.repo.ListRecords(ctx, q)
}

// Retry возвращает failed или dead запись в очередь со сброшенным счетчиком
func (s *Service) Retry(ctx context.Context, id string) error {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusFailed && rec.Status != StatusDead {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusPending)
	}
	return s.repo.MarkStatus(ctx, StatusUpdate{ID: id, To: StatusPending, ResetRetry: true})
}

func (s *Service) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := s.repo.PurgeSynced(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced records: %w", err)
	}
	s.log.Info("synced records purged", "count", n, "older_than", olderThan)
	return n, nil
}

func (s *Service) History(ctx context.Context, q LogQuery) ([]*SyncLogEntry, error) {
	return s.repo.ListLog(ctx, q)
}

func (s *Service) Conflicts(ctx context.Context, unresolvedOnly bool) ([]*SyncConflict, error) {
	return s.repo.ListConflicts(ctx, unresolvedOnly)
}

// ResolveConflict разрешает конфликт вручную
func (s *Service) ResolveConflict(ctx context.Context, id int64, req ResolveRequest) (*SyncConflict, error) {
	c, err := s.repo.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}

	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "operator"
	}

	if err := s.resolver.Resolve(ctx, c, req.Resolution, req.MergedData, resolvedBy); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.TotalResolved++
	s.mu.Unlock()

	return s.repo.GetConflict(ctx, id)
}

func (s *Service) Config() Config {
	return s.config.Snapshot()
}

// UpdateConfig проверяет и сохраняет настройки, затем уведомляет подписчиков
func (s *Service) UpdateConfig(ctx context.Context, fn func(*Config)) (Config, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next := s.config.Snapshot()
	fn(&next)

	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	if err := s.repo.SaveConfig(ctx, next); err != nil {
		return Config{}, fmt.Errorf("failed to save sync config: %w", err)
	}

	s.config.Store(next)
	s.log.Info("sync config updated",
		"interval_minutes", next.SyncIntervalMinutes,
		"auto_sync", next.AutoSyncEnabled,
		"policy", next.ConflictPolicy,
		"authenticated", next.Authenticated(),
	)
	return next, nil
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) finish(result *CycleResult) {
	s.mu.Lock()
	end := result.EndTime
	s.lastSync = &end
	s.last = *result

	s.stats.TotalSyncs++
	s.stats.TotalUploaded += result.Uploaded
	s.stats.TotalDownloaded += result.Downloaded
	s.stats.TotalConflicts += result.Conflicts
	s.stats.TotalResolved += result.Resolved
	s.stats.TotalErrors += len(result.Errors)
	if result.Success {
		s.stats.LastSuccessful = end
	} else {
		s.stats.LastFailed = end
	}

	n := float64(s.stats.TotalSyncs)
	s.stats.AvgSyncDuration = (s.stats.AvgSyncDuration*(n-1) + result.Duration.Seconds()) / n

	hooks := make([]func(*CycleResult), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(result)
	}
}

func (s *Service) appendLog(ctx context.Context, dir Direction, table, recordID string, action Action, status Status, d time.Duration, errMsg string, at time.Time) {
	if at.IsZero() {
		at = s.now()
	}

	entry := &SyncLogEntry{
		Direction: dir,
		Table:     table,
		RecordID:  recordID,
		Action:    action,
		Status:    status,
		Duration:  d,
		Error:     errMsg,
		CreatedAt: at,
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		s.log.Warn("failed to append sync log", "direction", dir, "record_id", recordID, "error", err)
	}
}
