package prospecting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/divulgaai/prospecting-engine/internal/leads"
	"github.com/divulgaai/prospecting-engine/internal/messaging/zapiclient"
)

type fakeStore struct {
	mu         sync.Mutex
	records    map[bson.ObjectID]*leads.Lead
	claims     int
	counted    int64
	countErr   error
	releaseErr error
	// violations counts mutations that left exactly one claim field set.
	violations int
}

func newFakeStore(records ...*leads.Lead) *fakeStore {
	s := &fakeStore{records: map[bson.ObjectID]*leads.Lead{}}
	for _, r := range records {
		if r.ID.IsZero() {
			r.ID = bson.NewObjectID()
		}
		s.records[r.ID] = r
	}
	return s
}

func (f *fakeStore) checkPairing(l *leads.Lead) {
	if (l.AssignedTo == "") != (l.AssignedAt == nil) {
		f.violations++
	}
}

func (f *fakeStore) ClaimNext(_ context.Context, filter leads.ClaimFilter, workerID string) (*leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	for _, l := range f.records {
		if l.ProspectionDate != nil || l.NoWhatsApp || l.AssignedTo != "" {
			continue
		}
		if l.Prospector != filter.Prospector {
			continue
		}
		if filter.Source != "" && l.Source != filter.Source {
			continue
		}
		now := time.Now()
		l.AssignedTo = workerID
		l.AssignedAt = &now
		f.checkPairing(l)
		copied := *l
		return &copied, nil
	}
	return nil, leads.ErrNoEligibleLeads
}

func (f *fakeStore) Release(_ context.Context, id bson.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if l, ok := f.records[id]; ok {
		l.AssignedTo = ""
		l.AssignedAt = nil
		f.checkPairing(l)
	}
	return nil
}

func (f *fakeStore) MarkUnreachable(_ context.Context, id bson.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.records[id]; ok {
		l.NoWhatsApp = true
		l.AssignedTo = ""
		l.AssignedAt = nil
		f.checkPairing(l)
	}
	return nil
}

func (f *fakeStore) Complete(_ context.Context, id bson.ObjectID, canonicalPhone string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.records[id]; ok {
		if canonicalPhone != "" {
			l.Phone = canonicalPhone
		}
		l.ProspectionDate = &at
		l.AssignedTo = ""
		l.AssignedAt = nil
		f.checkPairing(l)
	}
	return nil
}

func (f *fakeStore) CountCompletedSince(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counted, nil
}

func (f *fakeStore) get(id bson.ObjectID) leads.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

func (f *fakeStore) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims
}

type fakeGateway struct {
	mu        sync.Mutex
	connected bool
	exists    bool
	canonical string
	failSends int
	texts     []string
	audios    []string
	images    []string
}

func (f *fakeGateway) InstanceConnected(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, nil
}

func (f *fakeGateway) PhoneExists(_ context.Context, phone string) (zapiclient.PhoneCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return zapiclient.PhoneCheck{Exists: f.exists, Phone: f.canonical}, nil
}

func (f *fakeGateway) send(kind *[]string, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return errors.New("gateway unavailable")
	}
	*kind = append(*kind, payload)
	return nil
}

func (f *fakeGateway) SendText(_ context.Context, phone, _ string) error {
	return f.send(&f.texts, phone)
}

func (f *fakeGateway) SendAudio(_ context.Context, phone, _ string) error {
	return f.send(&f.audios, phone)
}

func (f *fakeGateway) SendImage(_ context.Context, phone, _, _ string) error {
	return f.send(&f.images, phone)
}

func (f *fakeGateway) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.audios) + len(f.images)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Broadcast(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeCRM struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeCRM) UpdateDealStage(_ context.Context, dealID int64, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dealID)
	return f.err
}

// wednesdayNoon is inside the default business window and not on the rest
// day.
var wednesdayNoon = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, store *fakeStore, gw *fakeGateway) *Scheduler {
	t.Helper()
	hours, err := NewBusinessHours(8, 20, time.Sunday, "UTC")
	if err != nil {
		t.Fatalf("business hours: %v", err)
	}
	composer := NewComposer("Ana", time.UTC).withPicker(func(int) int { return 0 })
	return NewScheduler("Ana", store, gw, composer, nil).
		WithHours(hours).
		WithWaits(WaitPolicy{}).
		WithDailyQuota(0).
		WithClock(func() time.Time { return wednesdayNoon })
}

func TestSchedulerProspectsLeadEndToEnd(t *testing.T) {
	lead := &leads.Lead{Phone: "+55 (31) 99999-0000", Prospector: "Ana", AgendorDealID: 42}
	store := newFakeStore(lead)
	gw := &fakeGateway{connected: true, exists: true, canonical: "5531999990000"}
	notifier := &fakeNotifier{}
	crm := &fakeCRM{}
	sched := newTestScheduler(t, store, gw).
		WithNotifier(notifier).
		WithCRM(crm, 3, "")

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := store.get(lead.ID)
	if got.ProspectionDate == nil {
		t.Fatalf("expected prospection date to be set")
	}
	if got.AssignedTo != "" || got.AssignedAt != nil {
		t.Fatalf("expected claim fields cleared, got %q/%v", got.AssignedTo, got.AssignedAt)
	}
	if got.Phone != "5531999990000" {
		t.Fatalf("expected canonical phone, got %q", got.Phone)
	}
	if len(gw.texts) != 1 {
		t.Fatalf("expected one text send, got %d", len(gw.texts))
	}
	if len(crm.calls) != 1 || crm.calls[0] != 42 {
		t.Fatalf("expected deal 42 updated, got %v", crm.calls)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one empty-queue notification, got %d", notifier.count())
	}
	if store.violations != 0 {
		t.Fatalf("claim fields were left half-set %d time(s)", store.violations)
	}
}

func TestSchedulerMutualExclusion(t *testing.T) {
	lead := &leads.Lead{Phone: "5531999990000", Prospector: "Ana"}
	store := newFakeStore(lead)
	gwA := &fakeGateway{connected: true, exists: true}
	gwB := &fakeGateway{connected: true, exists: true}
	notifier := &fakeNotifier{}
	schedA := newTestScheduler(t, store, gwA).WithNotifier(notifier)
	schedB := newTestScheduler(t, store, gwB).WithNotifier(notifier)

	var wg sync.WaitGroup
	for _, sched := range []*Scheduler{schedA, schedB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Run(context.Background())
		}()
	}
	wg.Wait()

	if total := gwA.sendCount() + gwB.sendCount(); total != 1 {
		t.Fatalf("expected exactly one send across workers, got %d", total)
	}
	got := store.get(lead.ID)
	if got.ProspectionDate == nil {
		t.Fatalf("expected the lead to be completed")
	}
	if notifier.count() < 1 {
		t.Fatalf("expected at least one empty-queue notification")
	}
	if store.violations != 0 {
		t.Fatalf("claim fields were left half-set %d time(s)", store.violations)
	}
}

func TestSchedulerMarksUnreachable(t *testing.T) {
	lead := &leads.Lead{Phone: "5531988880000", Prospector: "Ana"}
	store := newFakeStore(lead)
	gw := &fakeGateway{connected: true, exists: false}
	sched := newTestScheduler(t, store, gw)

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := store.get(lead.ID)
	if !got.NoWhatsApp {
		t.Fatalf("expected lead flagged without whatsapp")
	}
	if got.ProspectionDate != nil {
		t.Fatalf("unreachable lead must not be marked completed")
	}
	if got.AssignedTo != "" || got.AssignedAt != nil {
		t.Fatalf("expected claim fields cleared")
	}
	if gw.sendCount() != 0 {
		t.Fatalf("expected no dispatch for unreachable phone, got %d", gw.sendCount())
	}
}

func TestSchedulerRetriesAfterDispatchFailure(t *testing.T) {
	lead := &leads.Lead{Phone: "5531977770000", Prospector: "Ana"}
	store := newFakeStore(lead)
	gw := &fakeGateway{connected: true, exists: true, failSends: 1}
	sched := newTestScheduler(t, store, gw)

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := store.get(lead.ID)
	if got.ProspectionDate == nil {
		t.Fatalf("expected lead completed after retry")
	}
	if len(gw.texts) != 1 {
		t.Fatalf("expected exactly one delivered text, got %d", len(gw.texts))
	}
	if store.claimCount() < 2 {
		t.Fatalf("expected the lead to be re-claimed after the failed dispatch")
	}
	if store.violations != 0 {
		t.Fatalf("claim fields were left half-set %d time(s)", store.violations)
	}
}

func TestSchedulerBusinessHoursGate(t *testing.T) {
	store := newFakeStore(&leads.Lead{Phone: "5531966660000", Prospector: "Ana"})
	gw := &fakeGateway{connected: true, exists: true}
	waits := WaitPolicy{OffHours: Range{Min: time.Hour, Max: time.Hour}}
	sched := newTestScheduler(t, store, gw).
		WithWaits(waits).
		WithClock(func() time.Time {
			// Sunday is the rest day.
			return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
		})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.claimCount() != 0 {
		t.Fatalf("expected no claim attempts outside business hours, got %d", store.claimCount())
	}
}

func TestSchedulerDailyQuotaGate(t *testing.T) {
	store := newFakeStore(&leads.Lead{Phone: "5531955550000", Prospector: "Ana"})
	store.counted = 300
	gw := &fakeGateway{connected: true, exists: true}
	sched := newTestScheduler(t, store, gw).WithDailyQuota(300)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sched.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.claimCount() != 0 {
		t.Fatalf("expected no claim attempts over quota, got %d", store.claimCount())
	}
}

func TestSchedulerStopsWhenGatewayNeverConnects(t *testing.T) {
	store := newFakeStore(&leads.Lead{Phone: "5531944440000", Prospector: "Ana"})
	gw := &fakeGateway{connected: false}
	waits := WaitPolicy{ReconnectInitial: time.Millisecond, ReconnectMax: time.Millisecond, ReconnectMaxRetries: 2}
	sched := newTestScheduler(t, store, gw).WithWaits(waits)

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.claimCount() != 0 {
		t.Fatalf("expected no claims from a disconnected worker, got %d", store.claimCount())
	}
}

func TestSchedulerMediaVariantPartialFailureReleasesClaim(t *testing.T) {
	lead := &leads.Lead{
		Phone:      "5531933330000",
		Prospector: "Ana",
		Image:      &leads.Image{URL: "https://cdn.example.com/art.png"},
	}
	store := newFakeStore(lead)
	// First send (audio) succeeds, second (image) fails, then both succeed.
	gw := &mediaFailGateway{fakeGateway: fakeGateway{connected: true, exists: true}, failImages: 1}
	composer := NewComposer("Ana", time.UTC).WithAudioURL("https://cdn.example.com/ana.ogg")
	hours, _ := NewBusinessHours(0, 23, time.Sunday, "UTC")
	sched := NewScheduler("Ana", store, gw, composer, nil).
		WithHours(hours).
		WithWaits(WaitPolicy{}).
		WithDailyQuota(0).
		WithVariant(VariantMedia).
		WithClock(func() time.Time { return wednesdayNoon })

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := store.get(lead.ID)
	if got.ProspectionDate == nil {
		t.Fatalf("expected lead completed on the retry")
	}
	if len(gw.images) != 1 {
		t.Fatalf("expected one delivered image, got %d", len(gw.images))
	}
	if store.claimCount() < 2 {
		t.Fatalf("partial media failure must release and re-claim the lead")
	}
	if store.violations != 0 {
		t.Fatalf("claim fields were left half-set %d time(s)", store.violations)
	}
}

// mediaFailGateway fails image sends only, leaving audio sends intact.
type mediaFailGateway struct {
	fakeGateway
	failImages int
}

func (g *mediaFailGateway) SendImage(_ context.Context, phone, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failImages > 0 {
		g.failImages--
		return errors.New("gateway unavailable")
	}
	g.images = append(g.images, phone)
	return nil
}
