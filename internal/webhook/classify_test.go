package webhook

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDeleteEvent(t *testing.T) {
	ev, err := Decode([]byte(`{"eventType":"DocumentDeleted","projectId":2370300,"documentId":{"native":12345678}}`))
	require.NoError(t, err)
	assert.Equal(t, DocumentDelete, ev.Kind)
	assert.Equal(t, int64(2370300), ev.ProjectID)
	assert.Equal(t, int64(12345678), ev.DocumentID)
}

func TestDecodeCreateAndUpdate(t *testing.T) {
	for _, et := range []string{"DocumentCreated", "documentupdated", "Update", "createNew"} {
		ev, err := Decode([]byte(`{"eventType":"` + et + `","projectId":1,"documentId":2}`))
		require.NoError(t, err)
		assert.Equal(t, DocumentCreateOrUpdate, ev.Kind, et)
	}
}

func TestDecodeBackgroundSync(t *testing.T) {
	ev, err := Decode([]byte(`{"__background_sync":true,"projectId":99}`))
	require.NoError(t, err)
	assert.Equal(t, FullSync, ev.Kind)
	assert.Equal(t, int64(99), ev.ProjectID)
}

func TestDecodeProbeThenDecide(t *testing.T) {
	ev, err := Decode([]byte(`{"projectId":1,"documentId":"777"}`))
	require.NoError(t, err)
	assert.Equal(t, ProbeThenDecide, ev.Kind)
	assert.Equal(t, int64(777), ev.DocumentID)
}

func TestDecodeDeleteSynonyms(t *testing.T) {
	for _, et := range []string{"DocumentTrashed", "DocumentRemoved", "documentdeleted", "ItemPurged"} {
		ev, err := Decode([]byte(`{"eventType":"` + et + `","projectId":1,"documentId":{"native":12345678}}`))
		require.NoError(t, err)
		assert.Equal(t, DocumentDelete, ev.Kind, et)
	}
}

func TestDecodeCreateOrUpdateSynonyms(t *testing.T) {
	for _, et := range []string{"DocumentUploaded", "DocumentRenamed", "FolderMoved"} {
		ev, err := Decode([]byte(`{"eventType":"` + et + `","projectId":1,"documentId":2}`))
		require.NoError(t, err)
		assert.Equal(t, DocumentCreateOrUpdate, ev.Kind, et)
	}
}

func TestDecodeUnrecognizedWithDocumentProbes(t *testing.T) {
	ev, err := Decode([]byte(`{"eventType":"SomethingElse","projectId":5,"documentId":6}`))
	require.NoError(t, err)
	assert.Equal(t, ProbeThenDecide, ev.Kind)
}

func TestDecodeUnknownFallsBackToFullSync(t *testing.T) {
	ev, err := Decode([]byte(`{"projectId":5}`))
	require.NoError(t, err)
	assert.Equal(t, FullSync, ev.Kind)

	ev, err = Decode([]byte(`{"eventType":"SomethingElse","projectId":5}`))
	require.NoError(t, err)
	assert.Equal(t, FullSync, ev.Kind)
}

func TestDecodeGatewayEnvelope(t *testing.T) {
	inner := `{"eventType":"DocumentDeleted","projectId":1,"documentId":2}`

	ev, err := Decode([]byte(`{"body":"{\"eventType\":\"DocumentDeleted\",\"projectId\":1,\"documentId\":2}"}`))
	require.NoError(t, err)
	assert.Equal(t, DocumentDelete, ev.Kind)

	encoded := base64.StdEncoding.EncodeToString([]byte(inner))
	ev, err = Decode([]byte(`{"body":"` + encoded + `","isBase64Encoded":true}`))
	require.NoError(t, err)
	assert.Equal(t, DocumentDelete, ev.Kind)
	assert.Equal(t, int64(2), ev.DocumentID)
}

func TestDecodePayloadNesting(t *testing.T) {
	ev, err := Decode([]byte(`{"payload":{"eventType":"DocumentCreated","projectId":3,"documentId":{"native":4}}}`))
	require.NoError(t, err)
	assert.Equal(t, DocumentCreateOrUpdate, ev.Kind)
	assert.Equal(t, int64(3), ev.ProjectID)
	assert.Equal(t, int64(4), ev.DocumentID)
}

func TestDecodeBadJSON(t *testing.T) {
	_, err := Decode([]byte(`{nope`))
	assert.Error(t, err)
}

func TestDecodeBadBase64(t *testing.T) {
	_, err := Decode([]byte(`{"body":"!!!","isBase64Encoded":true}`))
	assert.Error(t, err)
}
