package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	e := NewCSVExporter()

	out, err := e.Render(Dataset{
		Headers: []string{"Title", "Author"},
		Rows: []map[string]string{
			{"Title": "Dune", "Author": "Herbert"},
			{"Title": "Solaris"}, // missing cell renders empty
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Title,Author\nDune,Herbert\nSolaris,\n", string(out))
}

func TestCSVExporterRejectsEmptyHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}
