package call

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/asr"
	"github.com/solvencyai/voicecollect/internal/llm"
	"github.com/solvencyai/voicecollect/internal/media"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/internal/telephony"
)

type fakeLLM struct {
	mu       sync.Mutex
	complete func(req llm.Request) (llm.Response, error)
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.complete
	f.mu.Unlock()
	if fn == nil {
		return llm.Response{Text: "Understood."}, nil
	}
	return fn(req)
}

type fakeSynth struct {
	body string
	err  error
}

func (f *fakeSynth) Stream(_ context.Context, text string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	body := f.body
	if body == "" {
		body = strings.Repeat("x", 64)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	created   []telephony.CreateCallParams
	callSID   string
	duration  int
	getErr    error
	ended     []string
	smsTo     []string
	smsErr    error
	owns      bool
	ownsErr   error
	ownsAsked []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{callSID: "CA_fake", owns: true}
}

func (f *fakeGateway) CreateCall(_ context.Context, params telephony.CreateCallParams) (*telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	return &telephony.Call{SID: f.callSID, Status: "queued"}, nil
}

func (f *fakeGateway) GetCall(_ context.Context, callSID string) (*telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &telephony.Call{SID: callSID, Status: "completed", Duration: itoa(f.duration)}, nil
}

func (f *fakeGateway) EndCall(_ context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callSID)
	return nil
}

func (f *fakeGateway) SendSMS(_ context.Context, _, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.smsErr != nil {
		return f.smsErr
	}
	f.smsTo = append(f.smsTo, to)
	return nil
}

func (f *fakeGateway) OwnsNumber(_ context.Context, number string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownsAsked = append(f.ownsAsked, number)
	return f.owns, f.ownsErr
}

func (f *fakeGateway) endedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

func (f *fakeGateway) smsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.smsTo)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

type fakeMedia struct {
	events    chan media.Event
	sendDelay time.Duration
	mu        sync.Mutex
	audio     [][]byte
	clears    int
	closed    bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{events: make(chan media.Event, 64)}
}

func (f *fakeMedia) Events() <-chan media.Event { return f.events }

func (f *fakeMedia) SendAudio(chunk []byte) error {
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(chunk))
	copy(data, chunk)
	f.audio = append(f.audio, data)
	return nil
}

func (f *fakeMedia) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMedia) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeMedia) audioChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeASRSession struct {
	events chan asr.Event
	mu     sync.Mutex
	writes int
	closed bool
}

func newFakeASRSession() *fakeASRSession {
	return &fakeASRSession{events: make(chan asr.Event, 64)}
}

func (f *fakeASRSession) Write(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return nil
}

func (f *fakeASRSession) Events() <-chan asr.Event { return f.events }

func (f *fakeASRSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

type fakeTranscriber struct {
	session *fakeASRSession
	err     error
}

func (f *fakeTranscriber) Start(_ context.Context) (asr.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// memConversations is an in-memory ConversationStore.
type memConversations struct {
	mu          sync.Mutex
	recs        map[uuid.UUID]*store.ConversationRecord
	transcripts map[uuid.UUID][]store.TranscriptEntry
}

func newMemConversations() *memConversations {
	return &memConversations{
		recs:        make(map[uuid.UUID]*store.ConversationRecord),
		transcripts: make(map[uuid.UUID][]store.TranscriptEntry),
	}
}

func (m *memConversations) Create(_ context.Context, campaignID, contactID uuid.UUID, phoneNumber string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.recs[id] = &store.ConversationRecord{
		ID:          id,
		CampaignID:  campaignID,
		ContactID:   contactID,
		PhoneNumber: phoneNumber,
		Status:      store.ConversationNotStarted,
	}
	return id, nil
}

func (m *memConversations) MarkInProgress(_ context.Context, id uuid.UUID, callSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok || rec.Status != store.ConversationNotStarted {
		return store.ErrStaleRead
	}
	rec.Status = store.ConversationInProgress
	rec.CallSID = callSID
	return nil
}

func (m *memConversations) AppendTranscript(_ context.Context, id uuid.UUID, entries ...store.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Seq = len(m.transcripts[id]) + 1
		m.transcripts[id] = append(m.transcripts[id], e)
	}
	return nil
}

func (m *memConversations) Finalize(_ context.Context, id uuid.UUID, status string, durationSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return store.ErrNotFound
	}
	if store.TerminalConversationStatus(rec.Status) {
		return store.ErrStaleRead
	}
	rec.Status = status
	rec.DurationSeconds = durationSeconds
	return nil
}

func (m *memConversations) GetByCallSID(_ context.Context, callSID string) (store.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.CallSID == callSID {
			return *rec, nil
		}
	}
	return store.ConversationRecord{}, store.ErrNotFound
}

func (m *memConversations) CancelOpenByCampaign(_ context.Context, campaignID uuid.UUID) ([]store.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ConversationRecord
	for _, rec := range m.recs {
		if rec.CampaignID == campaignID && !store.TerminalConversationStatus(rec.Status) {
			rec.Status = store.ConversationCanceled
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memConversations) StatusesByCampaign(_ context.Context, campaignID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, rec := range m.recs {
		if rec.CampaignID == campaignID {
			out = append(out, rec.Status)
		}
	}
	return out, nil
}

func (m *memConversations) transcript(id uuid.UUID) []store.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.TranscriptEntry(nil), m.transcripts[id]...)
}

func (m *memConversations) record(id uuid.UUID) store.ConversationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[id]; ok {
		return *rec
	}
	return store.ConversationRecord{}
}

func (m *memConversations) add(rec store.ConversationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.recs[rec.ID] = &r
}

// memSubscriptions is an in-memory SubscriptionStore with optional
// injected staleness.
type memSubscriptions struct {
	mu        sync.Mutex
	rec       store.SubscriptionRecord
	missing   bool
	staleLeft int // number of AddUsage calls to fail stale before applying
}

func (m *memSubscriptions) ActiveForUser(_ context.Context, userID uuid.UUID) (store.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing {
		return store.SubscriptionRecord{}, store.ErrNotFound
	}
	return m.rec, nil
}

func (m *memSubscriptions) AddUsage(_ context.Context, id uuid.UUID, expectedUsedSeconds, deltaSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleLeft > 0 {
		m.staleLeft--
		// Simulate a concurrent call landing first.
		m.rec.UsedSeconds += 7
		return store.ErrStaleRead
	}
	if m.rec.UsedSeconds != expectedUsedSeconds {
		return store.ErrStaleRead
	}
	m.rec.UsedSeconds += deltaSeconds
	return nil
}

func (m *memSubscriptions) usedSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.UsedSeconds
}

// memCampaigns is an in-memory CampaignStore.
type memCampaigns struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{statuses: make(map[uuid.UUID]string)}
}

func (m *memCampaigns) SetStatus(_ context.Context, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses[id] != from {
		return store.ErrStaleRead
	}
	m.statuses[id] = to
	return nil
}

func (m *memCampaigns) ForceStatus(_ context.Context, id uuid.UUID, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = to
	return nil
}

func (m *memCampaigns) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}
