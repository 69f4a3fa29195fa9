// Package cloudsync entrega alertas, evidências e métricas para a nuvem
// através de uma fila local (outbox), tolerando conectividade intermitente.
package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
)

// EvidenceSource é o pedaço do evidence store que o sync usa.
type EvidenceSource interface {
	ReadImage(detectionID string) ([]byte, core.EvidenceRecord, error)
	MarkSynced(detectionID string) error
	ListPending() ([]string, error)
}

type Options struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

type evidencePayload struct {
	DetectionID string `json:"detection_id"`
	// UploadURL pré-fornecida pula o pedido de upload-url.
	UploadURL string `json:"upload_url,omitempty"`
}

// permanentError: reenviar não adianta, o item sai da fila.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

type Syncer struct {
	client *Client
	outbox Outbox
	store  EvidenceSource
	dest   Destination
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	connected bool
	lastSync  time.Time
	lastErr   string
	delivered int
	failed    int
	dropped   int
	inFlight  map[int64]struct{}

	cycleMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer: dest nil usa CloudDestination (URL pré-assinada do serviço).
func NewSyncer(client *Client, outbox Outbox, store EvidenceSource, dest Destination, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if dest == nil {
		dest = CloudDestination{Client: client}
	}
	return &Syncer{
		client:   client,
		outbox:   outbox,
		store:    store,
		dest:     dest,
		opts:     opts,
		now:      time.Now,
		inFlight: make(map[int64]struct{}),
	}
}

// Start sobe o loop periódico. Chamar duas vezes não cria dois loops.
func (s *Syncer) Start(parent context.Context) {
	if !s.opts.Enabled {
		log.Printf("[cloudsync] sync desabilitado; itens ficam na fila")
		return
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	log.Printf("[cloudsync] loop iniciado (interval=%s batch=%d destino=%s)", s.opts.Interval, s.opts.BatchSize, s.dest.Name())
}

// Stop espera o loop terminar e fecha as conexões HTTP. A fila não é esvaziada.
func (s *Syncer) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.client.CloseIdleConnections()
	log.Printf("[cloudsync] parado")
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.safeCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeCycle impede que um panic mate o loop.
func (s *Syncer) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[cloudsync] panic no ciclo: %v\n%s", r, string(debug.Stack()))
			s.setErr(fmt.Sprintf("panic: %v", r))
		}
	}()
	if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[cloudsync] ciclo: %v", err)
	}
}

// Trigger roda um ciclo agora, fora do ticker.
func (s *Syncer) Trigger(ctx context.Context) error {
	return s.RunCycle(ctx)
}

// RunCycle: health check; se falhar, aborta sem tocar na fila. Senão entrega
// até BatchSize itens.
func (s *Syncer) RunCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if err := s.client.Health(ctx); err != nil {
		s.mu.Lock()
		if s.connected {
			log.Printf("[cloudsync] nuvem inacessível: %v", err)
		}
		s.connected = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("health: %w", err)
	}
	s.mu.Lock()
	if !s.connected {
		log.Printf("[cloudsync] nuvem acessível")
	}
	s.connected = true
	s.mu.Unlock()

	items, err := s.outbox.Peek(s.opts.BatchSize * 2)
	if err != nil {
		s.setErr(err.Error())
		return err
	}
	processed := 0
	// câmeras com alerta mais antigo ainda na fila: os seguintes esperam
	blocked := map[string]bool{}
	for _, it := range items {
		if processed >= s.opts.BatchSize || ctx.Err() != nil {
			break
		}
		cam := alertCamera(it)
		if it.Kind == KindAlert && blocked[cam] {
			continue
		}
		if !s.claim(it.ID) {
			if it.Kind == KindAlert {
				blocked[cam] = true
			}
			continue
		}
		// pode ter sido entregue pelo envio imediato depois do Peek
		cur, ok, err := s.outbox.Get(it.ID)
		if err != nil || !ok {
			s.release(it.ID)
			continue
		}
		processed++
		if !s.process(ctx, cur) && it.Kind == KindAlert {
			blocked[cam] = true
		}
		s.release(it.ID)
	}

	s.mu.Lock()
	s.lastSync = s.now()
	s.mu.Unlock()
	return nil
}

// process entrega um item e decide se sai da fila ou volta com attempt+1.
// false = o item continua na fila.
func (s *Syncer) process(ctx context.Context, it Item) bool {
	err := s.deliver(ctx, it)
	if err == nil {
		if rmErr := s.outbox.Remove(it.ID); rmErr != nil {
			log.Printf("[cloudsync] entregue mas não removido %s: %v", it.Key, rmErr)
		}
		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()
		return true
	}

	var perm permanentError
	if it.Kind == KindMetric || errors.As(err, &perm) {
		log.Printf("[cloudsync] descartando %s %s: %v", it.Kind, it.Key, err)
		_ = s.outbox.Remove(it.ID)
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return true
	}

	log.Printf("[cloudsync] falha %s %s (tentativa %d): %v", it.Kind, it.Key, it.Attempts+1, err)
	if mfErr := s.outbox.MarkFailed(it.ID, err.Error()); mfErr != nil {
		log.Printf("[cloudsync] erro marcando falha de %s: %v", it.Key, mfErr)
	}
	s.mu.Lock()
	s.failed++
	s.lastErr = err.Error()
	s.mu.Unlock()
	return false
}

// alertCamera lê o camera_id do payload de um item de alerta.
func alertCamera(it Item) string {
	if it.Kind != KindAlert {
		return ""
	}
	var a struct {
		CameraID string `json:"camera_id"`
	}
	_ = json.Unmarshal(it.Payload, &a)
	return a.CameraID
}

func (s *Syncer) deliver(ctx context.Context, it Item) error {
	switch it.Kind {
	case KindAlert:
		var a core.Alert
		if err := json.Unmarshal(it.Payload, &a); err != nil {
			return permanentError{fmt.Errorf("payload de alerta inválido: %w", err)}
		}
		return s.client.PostAlert(ctx, a)
	case KindEvidence:
		var p evidencePayload
		if err := json.Unmarshal(it.Payload, &p); err != nil {
			return permanentError{fmt.Errorf("payload de evidência inválido: %w", err)}
		}
		return s.deliverEvidence(ctx, p)
	case KindMetric:
		return s.client.PostMetric(ctx, it.Payload)
	default:
		return permanentError{fmt.Errorf("kind desconhecido %q", it.Kind)}
	}
}

// deliverEvidence: destino + upload + confirm, tudo ou nada. A chave do
// objeto é determinística, então repetir depois de um PUT bem-sucedido só
// sobrescreve o mesmo objeto.
func (s *Syncer) deliverEvidence(ctx context.Context, p evidencePayload) error {
	data, rec, err := s.store.ReadImage(p.DetectionID)
	if errors.Is(err, evidence.ErrEvidenceNotFound) {
		return permanentError{err}
	}
	if err != nil {
		return err
	}

	key := ObjectKey(rec)
	var objectURL string
	if p.UploadURL != "" {
		if err := s.client.PutObject(ctx, p.UploadURL, data, contentTypeFor(key)); err != nil {
			return err
		}
		objectURL = stripQuery(p.UploadURL)
	} else {
		objectURL, err = s.dest.Put(ctx, key, data, contentTypeFor(key))
		if err != nil {
			return err
		}
	}

	if err := s.client.ConfirmEvidence(ctx, EvidenceConfirmation{
		DetectionID: rec.DetectionID,
		CameraID:    rec.CameraID,
		SiteID:      rec.SiteID,
		Timestamp:   rec.Timestamp,
		Violations:  rec.Violations,
		SafetyScore: rec.SafetyScore,
		FileHash:    rec.FileHash,
		Redacted:    rec.Redacted,
		ObjectKey:   key,
		ObjectURL:   objectURL,
	}); err != nil {
		return err
	}
	return s.store.MarkSynced(rec.DetectionID)
}

// SendAlert põe o alerta na fila e, se a nuvem está acessível, tenta entregar
// na hora. Falha na entrega imediata não é erro: o item fica na fila.
func (s *Syncer) SendAlert(ctx context.Context, alert core.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("erro serializando alerta: %w", err)
	}
	it, _, err := s.outbox.Enqueue(KindAlert, "alert:"+alert.ID, payload, s.now())
	if err != nil {
		return err
	}
	if !s.opts.Enabled || !s.Connected() {
		return nil
	}
	if !s.claim(it.ID) {
		return nil
	}
	defer s.release(it.ID)
	cur, ok, err := s.outbox.Get(it.ID)
	if err != nil || !ok {
		return nil
	}
	if older, err := s.olderAlertQueued(cur.ID, alert.CameraID); err != nil || older {
		// mantém a ordem por câmera: o ciclo entrega os dois em sequência
		return nil
	}
	s.process(ctx, cur)
	return nil
}

// olderAlertQueued: existe alerta da mesma câmera enfileirado antes de id.
func (s *Syncer) olderAlertQueued(id int64, cameraID string) (bool, error) {
	items, err := s.outbox.Peek(0)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.ID >= id {
			break
		}
		if it.Kind == KindAlert && alertCamera(it) == cameraID {
			return true, nil
		}
	}
	return false, nil
}

// UploadEvidence agenda o envio; quem entrega é o ciclo.
func (s *Syncer) UploadEvidence(ctx context.Context, detectionID string) error {
	payload, err := json.Marshal(evidencePayload{DetectionID: detectionID})
	if err != nil {
		return err
	}
	_, _, err = s.outbox.Enqueue(KindEvidence, "evidence:"+detectionID, payload, s.now())
	return err
}

// QueueMetric é best-effort: se o envio falhar o item é descartado.
func (s *Syncer) QueueMetric(metric any) error {
	payload, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("erro serializando métrica: %w", err)
	}
	_, _, err = s.outbox.Enqueue(KindMetric, "", payload, s.now())
	return err
}

// Reconcile reenfileira toda evidência com marcador pending_sync (startup).
// Devolve quantos itens novos entraram.
func (s *Syncer) Reconcile(ctx context.Context) (int, error) {
	ids, err := s.store.ListPending()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, id := range ids {
		payload, _ := json.Marshal(evidencePayload{DetectionID: id})
		_, ok, err := s.outbox.Enqueue(KindEvidence, "evidence:"+id, payload, s.now())
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		log.Printf("[cloudsync] %d evidências pendentes reenfileiradas", added)
	}
	return added, nil
}

// Client expõe o client (heartbeat e policies usam direto).
func (s *Syncer) Client() *Client { return s.client }

func (s *Syncer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

type Status struct {
	Enabled     bool       `json:"enabled"`
	Connected   bool       `json:"connected"`
	LastSync    *time.Time `json:"last_sync"`
	LastError   string     `json:"last_error,omitempty"`
	Pending     int        `json:"pending_items"`
	Delivered   int        `json:"delivered"`
	Failed      int        `json:"failed_attempts"`
	Dropped     int        `json:"dropped"`
	Destination string     `json:"destination"`
}

func (s *Syncer) Status() Status {
	pending, err := s.outbox.Len()
	if err != nil {
		log.Printf("[cloudsync] erro contando fila: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:     s.opts.Enabled,
		Connected:   s.connected,
		LastError:   s.lastErr,
		Pending:     pending,
		Delivered:   s.delivered,
		Failed:      s.failed,
		Dropped:     s.dropped,
		Destination: s.dest.Name(),
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		st.LastSync = &t
	}
	return st
}

func (s *Syncer) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Syncer) release(id int64) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Syncer) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}
