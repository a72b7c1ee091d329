package containerpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "/"},
		{in: "/", want: "/"},
		{in: "path", want: "/path/"},
		{in: "/path", want: "/path/"},
		{in: "path/", want: "/path/"},
		{in: "/path/", want: "/path/"},
		{in: "path/to/dir", want: "/path/to/dir/"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Prepare(tt.in), "input %q", tt.in)
	}
}

func TestExtensionPaths(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/opt/hivemq/extensions/my-ext/", ExtensionHome("my-ext"))
	require.Equal(t, "/opt/hivemq/extensions/my-ext/DISABLED", DisabledMarkerFor("my-ext"))
	require.Equal(t, "/opt/hivemq/extensions/my-ext/DISABLED", DisabledMarkerFor("/my-ext/"))
}

func TestInHome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/opt/hivemq/file.txt", InHome("", "file.txt"))
	require.Equal(t, "/opt/hivemq/conf/file.txt", InHome("conf", "file.txt"))
	require.Equal(t, "/opt/hivemq/extensions/ext/sub/a.properties", InHome("extensions/ext/sub", "a.properties"))
}

func TestInExtensionHome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/opt/hivemq/extensions/ext/a.properties", InExtensionHome("ext", "", "a.properties"))
	require.Equal(t, "/opt/hivemq/extensions/ext/conf/a.properties", InExtensionHome("ext", "/conf", "a.properties"))
}
