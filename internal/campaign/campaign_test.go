package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvencyai/voicecollect/internal/call"
	"github.com/solvencyai/voicecollect/internal/store"
)

type fakeCampaigns struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*store.CampaignRecord
}

func newFakeCampaigns(recs ...store.CampaignRecord) *fakeCampaigns {
	f := &fakeCampaigns{recs: make(map[uuid.UUID]*store.CampaignRecord)}
	for _, rec := range recs {
		r := rec
		f.recs[rec.ID] = &r
	}
	return f
}

func (f *fakeCampaigns) Get(_ context.Context, id uuid.UUID) (store.CampaignRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return store.CampaignRecord{}, store.ErrNotFound
	}
	return *rec, nil
}

func (f *fakeCampaigns) SetStatus(_ context.Context, id uuid.UUID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.Status != from {
		return store.ErrStaleRead
	}
	rec.Status = to
	return nil
}

func (f *fakeCampaigns) status(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[id].Status
}

type fakeContacts struct {
	byList map[uuid.UUID][]store.ContactRecord
}

func (f *fakeContacts) Get(_ context.Context, id uuid.UUID) (store.ContactRecord, error) {
	for _, recs := range f.byList {
		for _, rec := range recs {
			if rec.ID == id {
				return rec, nil
			}
		}
	}
	return store.ContactRecord{}, store.ErrNotFound
}

func (f *fakeContacts) ListByList(_ context.Context, listID uuid.UUID) ([]store.ContactRecord, error) {
	return f.byList[listID], nil
}

type fakeCaller struct {
	mu       sync.Mutex
	requests []call.PlaceCallRequest
	err      error
}

func (f *fakeCaller) PlaceCall(_ context.Context, req call.PlaceCallRequest) (call.PlaceCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return call.PlaceCallResult{}, f.err
	}
	f.requests = append(f.requests, req)
	return call.PlaceCallResult{ConversationID: uuid.New(), CallSID: "CA_dial"}, nil
}

func (f *fakeCaller) placed() []call.PlaceCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call.PlaceCallRequest(nil), f.requests...)
}

type fakeRecorder struct {
	mu        sync.Mutex
	created   []uuid.UUID
	finalized map[uuid.UUID]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finalized: make(map[uuid.UUID]string)}
}

func (f *fakeRecorder) Create(_ context.Context, _, _ uuid.UUID, _ string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeRecorder) Finalize(_ context.Context, id uuid.UUID, status string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[id] = status
	return nil
}

func testCampaign(listID uuid.UUID, status string) store.CampaignRecord {
	return store.CampaignRecord{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		ListID:      listID,
		Title:       "Q3 recovery",
		AgentName:   "Jordan",
		Goal:        "arrange payment",
		Script:      "You call on behalf of Acme Recovery.",
		Greeting:    "Hello, this is Jordan.",
		Tone:        "firm but courteous",
		SMSTemplate: "Pay here: https://pay.example/abc",
		FromNumber:  "+15550001111",
		Status:      status,
	}
}

func testContacts(listID uuid.UUID, n int) []store.ContactRecord {
	out := make([]store.ContactRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.ContactRecord{
			ID:          uuid.New(),
			ListID:      listID,
			FirstName:   "Pat",
			LastName:    "Doyle",
			PhoneNumber: "+1555123000" + string(rune('1'+i)),
			AmountDue:   "120.00",
			Currency:    "$",
		})
	}
	return out
}

func TestPublisherLaunch(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignNotStarted)
	camps := newFakeCampaigns(rec)
	contacts := &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{
		listID: testContacts(listID, 3),
	}}
	queue := NewMemoryQueue(16)

	p := NewPublisher(queue, camps, contacts, nil, nil)
	enqueued, err := p.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, enqueued)
	assert.Equal(t, store.CampaignPending, camps.status(rec.ID))

	msgs, err := queue.Receive(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	job, err := decodeDialJob(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, job.CampaignID)
}

func TestPublisherRejectsRelaunch(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignPending)
	p := NewPublisher(NewMemoryQueue(4), newFakeCampaigns(rec), &fakeContacts{}, nil, nil)

	_, err := p.Launch(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already launched")
}

func TestPublisherRejectsEmptyList(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignNotStarted)
	p := NewPublisher(NewMemoryQueue(4), newFakeCampaigns(rec),
		&fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{}}, nil, nil)

	_, err := p.Launch(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no contacts")
}

type fakeSubscriptionReader struct {
	sub store.SubscriptionRecord
	err error
}

func (f *fakeSubscriptionReader) ActiveForUser(context.Context, uuid.UUID) (store.SubscriptionRecord, error) {
	return f.sub, f.err
}

func TestPublisherRejectsInsufficientMinutes(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignNotStarted)
	camps := newFakeCampaigns(rec)
	contacts := &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{
		listID: testContacts(listID, 5),
	}}
	subs := &fakeSubscriptionReader{sub: store.SubscriptionRecord{
		PlanMinutes: 10,
		UsedSeconds: 7 * 60,
	}}

	p := NewPublisher(NewMemoryQueue(16), camps, contacts, subs, nil)
	_, err := p.Launch(context.Background(), rec.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minutes")
	// The launch must not have consumed the campaign's not_started state.
	assert.Equal(t, store.CampaignNotStarted, camps.status(rec.ID))
}

func TestPublisherAllowsSufficientMinutes(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignNotStarted)
	contacts := &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{
		listID: testContacts(listID, 3),
	}}
	subs := &fakeSubscriptionReader{sub: store.SubscriptionRecord{PlanMinutes: 30}}

	p := NewPublisher(NewMemoryQueue(16), newFakeCampaigns(rec), contacts, subs, nil)
	enqueued, err := p.Launch(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, enqueued)
}

func TestDialerPlacesCallFromJob(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignPending)
	contactList := testContacts(listID, 1)
	camps := newFakeCampaigns(rec)
	contacts := &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{listID: contactList}}
	dialed := &fakeCaller{}

	d := NewDialer(DialerConfig{
		Queue:         NewMemoryQueue(4),
		Caller:        dialed,
		Campaigns:     camps,
		Contacts:      contacts,
		Conversations: newFakeRecorder(),
	})

	body, err := DialJob{CampaignID: rec.ID, ContactID: contactList[0].ID}.encode()
	require.NoError(t, err)
	d.handle(context.Background(), Message{ID: "m1", Body: body})

	placed := dialed.placed()
	require.Len(t, placed, 1)
	assert.Equal(t, "Pat Doyle", placed[0].Contact.Name)
	assert.Equal(t, contactList[0].PhoneNumber, placed[0].Contact.PhoneNumber)
	assert.Equal(t, rec.ID, placed[0].Script.CampaignID)
	assert.Equal(t, "Hello, this is Jordan.", placed[0].Script.Greeting)
	assert.Equal(t, "+15550001111", placed[0].Script.FromNumber)

	// The first dial moves the campaign from pending to in progress.
	assert.Equal(t, store.CampaignInProgress, camps.status(rec.ID))
}

func TestDialerDropsJobsForStoppedCampaign(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignStopped)
	contactList := testContacts(listID, 1)
	dialed := &fakeCaller{}

	d := NewDialer(DialerConfig{
		Queue:         NewMemoryQueue(4),
		Caller:        dialed,
		Campaigns:     newFakeCampaigns(rec),
		Contacts:      &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{listID: contactList}},
		Conversations: newFakeRecorder(),
	})

	body, err := DialJob{CampaignID: rec.ID, ContactID: contactList[0].ID}.encode()
	require.NoError(t, err)
	d.handle(context.Background(), Message{ID: "m1", Body: body})

	assert.Empty(t, dialed.placed())
}

func TestDialerRecordsRejectedDialAsFailed(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignInProgress)
	contactList := testContacts(listID, 1)
	recorder := newFakeRecorder()
	dialed := &fakeCaller{err: &call.Rejection{Kind: call.RejectQuota, Message: "no minutes remaining"}}

	d := NewDialer(DialerConfig{
		Queue:         NewMemoryQueue(4),
		Caller:        dialed,
		Campaigns:     newFakeCampaigns(rec),
		Contacts:      &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{listID: contactList}},
		Conversations: recorder,
	})

	body, err := DialJob{CampaignID: rec.ID, ContactID: contactList[0].ID}.encode()
	require.NoError(t, err)
	d.handle(context.Background(), Message{ID: "m1", Body: body})

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.created, 1)
	assert.Equal(t, store.ConversationFailed, recorder.finalized[recorder.created[0]])
}

func TestDialerRunConsumesQueue(t *testing.T) {
	listID := uuid.New()
	rec := testCampaign(listID, store.CampaignPending)
	contactList := testContacts(listID, 2)
	queue := NewMemoryQueue(8)
	dialed := &fakeCaller{}

	d := NewDialer(DialerConfig{
		Queue:         queue,
		Caller:        dialed,
		Campaigns:     newFakeCampaigns(rec),
		Contacts:      &fakeContacts{byList: map[uuid.UUID][]store.ContactRecord{listID: contactList}},
		Conversations: newFakeRecorder(),
		WaitSeconds:   1,
	})

	for _, contact := range contactList {
		body, err := DialJob{CampaignID: rec.ID, ContactID: contact.ID}.encode()
		require.NoError(t, err)
		require.NoError(t, queue.Send(context.Background(), body))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(dialed.placed()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("dialer did not stop")
	}
}
