package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectURL(t *testing.T) {
	key := "evidence/2024/05/10/cam1/d1_blurred.jpg"

	assert.Equal(t, "http://minio:9000/bkt/"+key, objectURL(nil, false, "minio:9000", "bkt", key))
	assert.Equal(t, "https://minio:9000/bkt/"+key, objectURL(nil, true, "minio:9000", "bkt", key))

	base, err := url.Parse("https://cdn.example.com/files/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/files/"+key, objectURL(base, false, "ignored", "bkt", key))

	root, err := url.Parse("https://cdn.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+key, objectURL(root, false, "ignored", "bkt", key))
}

func TestNewMinioStoreRequiresCredentials(t *testing.T) {
	_, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
