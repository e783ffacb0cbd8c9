package skill

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wishub/skillhub/artifact/inmemory"
	"github.com/wishub/skillhub/errcode"
)

func TestRegisterAdmitsSkillAndResolvesCodePointer(t *testing.T) {
	catalog := NewInMemoryCatalog()
	store := inmemory.New()
	registrar := NewRegistrar(catalog, store)

	req := RegisterRequest{
		SkillID:               "greeter",
		Version:               "1.0.0",
		Language:              LanguagePython,
		EncodedCode:           base64.StdEncoding.EncodeToString([]byte("print('hi')")),
		Ext:                   "py",
		DefaultTimeoutSeconds: 10,
	}

	sk, err := registrar.Register(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, sk.CodePointer)

	blob, err := store.Fetch(context.Background(), sk.CodePointer)
	require.NoError(t, err)
	require.Equal(t, "print('hi')", string(blob))

	got, err := catalog.Get(context.Background(), "greeter")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", got.Version)
}

func TestRegisterRejectsMalformedBase64(t *testing.T) {
	registrar := NewRegistrar(NewInMemoryCatalog(), inmemory.New())

	_, err := registrar.Register(context.Background(), RegisterRequest{
		SkillID:               "bad",
		Version:               "1.0.0",
		Language:              LanguagePython,
		EncodedCode:           "not-valid-base64!!!",
		Ext:                   "py",
		DefaultTimeoutSeconds: 10,
	})
	require.Error(t, err)
	var ce *errcode.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errcode.SkillInvalidEncoding, ce.Code)
}

func TestRegisterDuplicateVersionCleansUpUploadedBlob(t *testing.T) {
	catalog := NewInMemoryCatalog()
	store := inmemory.New()
	registrar := NewRegistrar(catalog, store)

	req := RegisterRequest{
		SkillID:               "dup",
		Version:               "1.0.0",
		Language:              LanguagePython,
		EncodedCode:           base64.StdEncoding.EncodeToString([]byte("a")),
		Ext:                   "py",
		DefaultTimeoutSeconds: 10,
	}
	_, err := registrar.Register(context.Background(), req)
	require.NoError(t, err)

	sk, err := registrar.Register(context.Background(), req)
	require.Error(t, err)
	require.Nil(t, sk)
	var ce *errcode.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, errcode.SkillAlreadyExists, ce.Code)
}
