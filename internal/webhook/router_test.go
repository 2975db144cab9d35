package webhook

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc *Service) http.Handler {
	t.Helper()
	return NewRouter(svc, slog.Default())
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, newTestService(&fakeOriginAPI{}, newFakeStoreAPI()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWebhookRejectsBadBody(t *testing.T) {
	r := newTestRouter(t, newTestService(&fakeOriginAPI{}, newFakeStoreAPI()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{nope`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookDeleteFlow(t *testing.T) {
	o := &fakeOriginAPI{name: "Smith v. Jones", rootID: 1}
	st := newFakeStoreAPI()
	st.docKeys = map[int64][]string{
		12345678: {"cases/Smith v. Jones/Acme Law/Smith v. Jones/Discovery/x.pdf"},
	}
	r := newTestRouter(t, newTestService(o, st))

	body := `{"eventType":"DocumentDeleted","projectId":2370300,"documentId":{"native":12345678}}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, st.docKeys[12345678], st.deletes)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestWebhookFullSyncAccepted(t *testing.T) {
	r := newTestRouter(t, newTestService(&fakeOriginAPI{name: "A", rootID: 1}, newFakeStoreAPI()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"__background_sync":true,"projectId":7}`)))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
