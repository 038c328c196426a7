package resultfile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Element {
	seeker := NewElement("Seeker").SetValid(true)
	seeker.Append(
		NewElement("Seek").SetFloat("length", 0.25).SetInt("time", 8123),
		NewElement("Seek").SetFloat("length", 0.5).SetInt("time", 9001),
	)

	info := NewElement("Info").Append(
		NewElement("FS").SetBool("fs", true).Set("mountpoint", "/mnt/my disk"),
	)

	return NewElement(RootName).Append(info, seeker)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleTree()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"), "missing xml header")
	assert.Contains(t, out, "<!DOCTYPE HddTest>")
	assert.Contains(t, out, `<Seeker valid="yes">`)

	root, err := Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, root)

	assert.Equal(t, RootName, root.Name)

	seeker := root.FirstChild("Seeker")
	require.NotNil(t, seeker)
	assert.True(t, seeker.Valid())

	seeks := seeker.ChildrenNamed("Seek")
	require.Len(t, seeks, 2)
	assert.InDelta(t, 0.25, seeks[0].Float("length", 0), 1e-12)
	assert.Equal(t, int64(9001), seeks[1].Int("time", 0))

	fs := root.FirstChild("Info").FirstChild("FS")
	assert.True(t, fs.Bool("fs"))
	assert.Equal(t, "/mnt/my disk", fs.Get("mountpoint", ""))
}

func TestDecodeEmpty(t *testing.T) {
	root, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, root)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(strings.NewReader("<Results><Seeker></Results>"))
	assert.Error(t, err)
}

func TestNilElementLookups(t *testing.T) {
	var e *Element

	assert.Nil(t, e.FirstChild("Info"))
	assert.Empty(t, e.ChildrenNamed("Seek"))
	assert.False(t, e.Valid())
	assert.Equal(t, "UNKNOWN", e.Get("model", "UNKNOWN"))
	assert.Equal(t, int64(-1), e.Int("size", -1))
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		value string
		asInt int64
		asF   float64
	}{
		{"integer", "42", 42, 42},
		{"float truncates", "3.75", 3, 3.75},
		{"garbage", "abc", -1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewElement("x").Set("v", tt.value)
			assert.Equal(t, tt.asInt, e.Int("v", -1))
			assert.InDelta(t, tt.asF, e.Float("v", -1), 1e-12)
		})
	}

	e := NewElement("x").Set("a", "1").Set("a", "2")
	require.Len(t, e.Attrs, 1, "Set must replace an existing attribute")
	assert.Equal(t, "2", e.Get("a", ""))

	assert.False(t, NewElement("x").SetValid(false).Valid())
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xml")

	require.NoError(t, WriteFile(path, sampleTree()))

	root, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, root.Children, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}
