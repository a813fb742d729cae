package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string            `json:"name"`
	Count  int               `json:"count"`
	Labels map[string]string `json:"labels"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestCodecsAreInterchangeable(t *testing.T) {
	in := sample{Name: "seattle", Count: 2, Labels: map[string]string{"k": "v"}}

	for _, enc := range []Codec{JSON{}, GoJSON{}} {
		for _, dec := range []Codec{JSON{}, GoJSON{}} {
			var out sample
			require.NoError(t, dec.Unmarshal(MustMarshal(enc, in), &out))
			assert.Equal(t, in, out, "%s -> %s", enc.Name(), dec.Name())
		}
	}
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(JSON{}, make(chan int)) })
}

func TestCloneIsDeep(t *testing.T) {
	in := sample{Name: "paris", Labels: map[string]string{"k": "v"}}

	out, err := Clone(nil, &in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out.Labels["k"] = "changed"
	assert.Equal(t, "v", in.Labels["k"])
}

func TestCloneUnsupported(t *testing.T) {
	ch := make(chan int)
	_, err := Clone(JSON{}, &ch)
	assert.Error(t, err)
}
