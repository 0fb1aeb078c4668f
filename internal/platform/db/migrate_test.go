package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontoagenda/agenda/migrations"
)

func TestAvailableVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_init.up.sql":       {Data: []byte("CREATE TABLE actors (id UUID);")},
		"000001_init.down.sql":     {Data: []byte("DROP TABLE actors;")},
		"000003_notes.up.sql":      {Data: []byte("ALTER TABLE slots ADD COLUMN x TEXT;")},
		"000002_patients.up.sql":   {Data: []byte("CREATE TABLE patients (id UUID);")},
		"000002_patients.down.sql": {Data: []byte("DROP TABLE patients;")},
	}

	versions, err := AvailableVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, versions)
}

func TestAvailableVersions_EmbeddedSchema(t *testing.T) {
	versions, err := AvailableVersions(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, uint(1), versions[0])
}
