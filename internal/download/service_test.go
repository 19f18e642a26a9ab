package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/model"
	"github.com/mmeshcher/filedrop/internal/ratelimit"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/tokens"
)

type fakeStore struct {
	mu sync.Mutex

	now      time.Time
	tokens   []*model.DownloadToken
	products map[uuid.UUID]*model.Product
	docs     map[uuid.UUID][]model.ProductFile
	audio    map[uuid.UUID][]model.ProductFile

	productCounterErr error
}

func newFakeStore(now time.Time) *fakeStore {
	return &fakeStore{
		now:      now,
		products: make(map[uuid.UUID]*model.Product),
		docs:     make(map[uuid.UUID][]model.ProductFile),
		audio:    make(map[uuid.UUID][]model.ProductFile),
	}
}

func (f *fakeStore) Validate(ctx context.Context, token string) (*model.DownloadToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.Token == token {
			cp := *t
			if cp.Expired(f.now) {
				return &cp, tokens.ErrTokenExpired
			}
			return &cp, nil
		}
	}
	return nil, repository.ErrTokenNotFound
}

func (f *fakeStore) ListTokensForProduct(ctx context.Context, orderID, productID uuid.UUID) ([]model.DownloadToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []model.DownloadToken
	for _, t := range f.tokens {
		if t.OrderID == orderID && t.ProductID == productID {
			res = append(res, *t)
		}
	}
	return res, nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeStore) ListProductFiles(ctx context.Context, productID uuid.UUID) ([]model.ProductFile, []model.ProductFile, error) {
	return f.docs[productID], f.audio[productID], nil
}

func (f *fakeStore) GetProductFile(ctx context.Context, kind model.FileKind, id uuid.UUID) (*model.ProductFile, error) {
	list := f.docs
	if kind == model.FileKindAudio {
		list = f.audio
	}
	for _, files := range list {
		for i := range files {
			if files[i].ID == id {
				return &files[i], nil
			}
		}
	}
	return nil, repository.ErrFileNotFound
}

func (f *fakeStore) IncrementDownloadCount(ctx context.Context, tokenID uuid.UUID, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == tokenID {
			if t.DownloadCount >= limit {
				return 0, repository.ErrQuotaExceeded
			}
			t.DownloadCount++
			return t.DownloadCount, nil
		}
	}
	return 0, repository.ErrTokenNotFound
}

func (f *fakeStore) IncrementProductDownloads(ctx context.Context, productID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productCounterErr != nil {
		return f.productCounterErr
	}
	f.products[productID].DownloadCount++
	return nil
}

type stubLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (ratelimit.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, identifier+"@"+endpoint)
	return s.decision, s.err
}

type stubSigner struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (s *stubSigner) SignedURL(ctx context.Context, path, fileName string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	if s.err != nil {
		return "", s.err
	}
	return "https://signed.example.com/" + path, nil
}

type fixture struct {
	store     *fakeStore
	limiter   *stubLimiter
	signer    *stubSigner
	svc       *Service
	orderID   uuid.UUID
	productID uuid.UUID
}

func newFixture(t *testing.T, docs, audio int) *fixture {
	t.Helper()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	fx := &fixture{
		store:     newFakeStore(now),
		limiter:   &stubLimiter{decision: ratelimit.Decision{Allowed: true}},
		signer:    &stubSigner{},
		orderID:   uuid.New(),
		productID: uuid.New(),
	}
	fx.store.products[fx.productID] = &model.Product{ID: fx.productID, Name: "Combo Pack"}

	for i := 0; i < docs; i++ {
		fx.store.docs[fx.productID] = append(fx.store.docs[fx.productID], model.ProductFile{
			ID: uuid.New(), ProductID: fx.productID, Kind: model.FileKindDocument,
			FileName: "doc.pdf", StoragePath: "docs/" + string(rune('a'+i)) + ".pdf", FileOrder: i,
		})
	}
	for i := 0; i < audio; i++ {
		fx.store.audio[fx.productID] = append(fx.store.audio[fx.productID], model.ProductFile{
			ID: uuid.New(), ProductID: fx.productID, Kind: model.FileKindAudio,
			FileName: "track.mp3", StoragePath: "audio/" + string(rune('a'+i)) + ".mp3", FileOrder: i,
		})
	}

	fx.svc = NewService(fx.store, fx.store, fx.limiter, fx.signer, zap.NewNop())
	return fx
}

func (fx *fixture) addToken(value string, created time.Time) *model.DownloadToken {
	t := &model.DownloadToken{
		ID:        uuid.New(),
		Token:     value,
		OrderID:   fx.orderID,
		ProductID: fx.productID,
		CreatedAt: created,
		ExpiresAt: created.Add(model.TokenTTL),
	}
	fx.store.tokens = append(fx.store.tokens, t)
	return t
}

func TestDownload_RedirectsToSignedURL(t *testing.T) {
	fx := newFixture(t, 2, 0)
	fx.addToken("token-one-0001", fx.store.now.Add(-time.Hour))
	fx.addToken("token-two-0002", fx.store.now.Add(-time.Hour+time.Millisecond))

	res, err := fx.svc.Download(context.Background(), "10.0.0.1", "token-one-0001")
	require.NoError(t, err)

	assert.Equal(t, "https://signed.example.com/docs/a.pdf", res.RedirectURL)
	assert.Empty(t, res.DirectURL)
	assert.Equal(t, 2, res.DownloadsRemaining)
	assert.Equal(t, 1, fx.store.tokens[0].DownloadCount)
	assert.Equal(t, int64(1), fx.store.products[fx.productID].DownloadCount)
	assert.Equal(t, []string{"10.0.0.1:token-on@download-file"}, fx.limiter.keys)
}

func TestDownload_AtMostThreeDownloads(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("abcdefgh-quota", fx.store.now.Add(-time.Hour))

	for i := 0; i < model.MaxDownloads; i++ {
		_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
		require.NoError(t, err)
	}

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	var quota *QuotaExceededError
	require.True(t, errors.As(err, &quota))
	assert.Equal(t, 3, quota.DownloadCount)
	assert.Equal(t, 3, tok.DownloadCount)
}

func TestDownload_SigningFailureKeepsQuota(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("token-sign-fail", fx.store.now.Add(-time.Hour))
	fx.signer.err = errors.New("presign: credentials expired")

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.Error(t, err)

	assert.Equal(t, 0, tok.DownloadCount)
	assert.Equal(t, int64(0), fx.store.products[fx.productID].DownloadCount)
}

func TestDownload_MissingSignerKeepsQuota(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("token-no-signer", fx.store.now.Add(-time.Hour))
	svc := NewService(fx.store, fx.store, fx.limiter, nil, zap.NewNop())

	_, err := svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.ErrorIs(t, err, ErrStorageNotConfigured)

	assert.Equal(t, 0, tok.DownloadCount)
}

func TestDownload_ConcurrentRequestsNeverExceedQuota(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("abcdefgh-race", fx.store.now.Add(-time.Hour))
	tok.DownloadCount = 1

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	assert.Equal(t, 3, tok.DownloadCount)
}

func TestDownload_ExpiredTokenRegardlessOfQuota(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("expired-token", fx.store.now.Add(-8*24*time.Hour))

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	assert.ErrorIs(t, err, tokens.ErrTokenExpired)
	assert.Equal(t, 0, tok.DownloadCount)
}

func TestDownload_UnknownToken(t *testing.T) {
	fx := newFixture(t, 1, 0)

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", "nope")
	assert.ErrorIs(t, err, repository.ErrTokenNotFound)
}

func TestDownload_RateLimited(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("rate-limited", fx.store.now.Add(-time.Hour))
	fx.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 42*time.Second, rl.RetryAfter)
	assert.Equal(t, 0, tok.DownloadCount)
}

func TestDownload_LimiterFailureFailsOpen(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("limiter-down", fx.store.now.Add(-time.Hour))
	fx.limiter.err = errors.New("db down")

	res, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RedirectURL)
}

func TestDownload_NoFiles(t *testing.T) {
	fx := newFixture(t, 0, 0)
	tok := fx.addToken("no-files", fx.store.now.Add(-time.Hour))

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Equal(t, 0, tok.DownloadCount)
}

func TestDownload_TokenBeyondFilesIsUnavailable(t *testing.T) {
	fx := newFixture(t, 1, 0)
	fx.addToken("first-token", fx.store.now.Add(-2*time.Hour))
	extra := fx.addToken("extra-token", fx.store.now.Add(-time.Hour))

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", extra.Token)
	assert.ErrorIs(t, err, ErrFileUnavailable)
	assert.Equal(t, 0, extra.DownloadCount)
}

func TestDownload_ExternalURLReturnedDirectly(t *testing.T) {
	fx := newFixture(t, 0, 0)
	fx.store.docs[fx.productID] = []model.ProductFile{{
		ID: uuid.New(), ProductID: fx.productID, Kind: model.FileKindDocument,
		FileName: "legacy.pdf", ExternalURL: "https://drive.example.com/legacy.pdf",
	}}
	tok := fx.addToken("legacy-token", fx.store.now.Add(-time.Hour))

	res, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com/legacy.pdf", res.DirectURL)
	assert.Empty(t, res.RedirectURL)
	assert.Equal(t, "Combo Pack", res.ProductName)
	assert.Empty(t, fx.signer.paths)
}

func TestDownload_ExplicitFileReference(t *testing.T) {
	fx := newFixture(t, 2, 1)
	tok := fx.addToken("explicit-ref", fx.store.now.Add(-time.Hour))
	audioID := fx.store.audio[fx.productID][0].ID
	tok.FileKind = model.FileKindAudio
	tok.FileID = &audioID

	res, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com/audio/a.mp3", res.RedirectURL)
}

func TestDownload_ProductCounterFailureIgnored(t *testing.T) {
	fx := newFixture(t, 1, 0)
	tok := fx.addToken("counter-fails", fx.store.now.Add(-time.Hour))
	fx.store.productCounterErr = errors.New("deadlock")

	_, err := fx.svc.Download(context.Background(), "10.0.0.1", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, tok.DownloadCount)
}

func TestResolvePositional(t *testing.T) {
	docs := []model.ProductFile{{FileName: "d0"}, {FileName: "d1"}}
	audio := []model.ProductFile{{FileName: "a0"}}

	siblings := make([]model.DownloadToken, 4)
	for i := range siblings {
		siblings[i].ID = uuid.New()
	}

	tests := []struct {
		name string
		pos  int
		want string
	}{
		{name: "first document", pos: 0, want: "d0"},
		{name: "second document", pos: 1, want: "d1"},
		{name: "audio after documents", pos: 2, want: "a0"},
		{name: "beyond both ranges", pos: 3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ResolvePositional(siblings[tt.pos].ID, siblings, docs, audio)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrFileUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.FileName)
		})
	}

	_, err := ResolvePositional(uuid.New(), siblings, docs, audio)
	assert.ErrorIs(t, err, ErrFileUnavailable)
}
