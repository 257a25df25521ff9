package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/registry"
)

func TestRegistry_OneSessionPerKindPerChannel(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.RegisterChallenge("ch1", &domain.Challenge{ID: "c1"}))

	err := r.RegisterChallenge("ch1", &domain.Challenge{ID: "c2"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code)

	got, ok := r.Challenge("ch1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID, "losing registration must not replace the occupant")
}

func TestRegistry_NoCrossKindExclusion(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.RegisterChallenge("ch1", &domain.Challenge{ID: "c1"}))
	require.NoError(t, r.RegisterGame("ch1", &domain.GroupGame{ChannelID: "ch1"}))
	require.NoError(t, r.RegisterSolo("ch1", &domain.SoloSession{ChannelID: "ch1"}))

	_, ok := r.Challenge("ch1")
	assert.True(t, ok)
	_, ok = r.Game("ch1")
	assert.True(t, ok)
	_, ok = r.Solo("ch1")
	assert.True(t, ok)
}

func TestRegistry_RemoveFreesTheKey(t *testing.T) {
	r := registry.New()

	require.NoError(t, r.RegisterGame("ch1", &domain.GroupGame{ChannelID: "ch1"}))
	r.RemoveGame("ch1")

	_, ok := r.Game("ch1")
	assert.False(t, ok)
	assert.NoError(t, r.RegisterGame("ch1", &domain.GroupGame{ChannelID: "ch1"}))
}

func TestRegistry_Bindings(t *testing.T) {
	r := registry.New()

	_, ok := r.Binding("u1")
	assert.False(t, ok)

	r.Bind("u1", "ch1")
	ch, ok := r.Binding("u1")
	require.True(t, ok)
	assert.Equal(t, "ch1", ch)

	r.Unbind("u1")
	_, ok = r.Binding("u1")
	assert.False(t, ok)
}
