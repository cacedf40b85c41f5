package psv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	assert := require.New(t)

	file, err := Parse(`Name!STRING:0|Path!STRING:0|Hosts!STRING:0
## seqn = 12345
us|tpr/wow|us.cdn.example.com edge.example.com
eu|tpr/wow|eu.cdn.example.com
`)
	assert.NoError(err)

	assert.Equal([]string{"name", "path", "hosts"}, file.Header)
	assert.Equal(12345, file.SeqN)
	assert.Len(file.Rows, 2)
	assert.Equal([]string{"us", "tpr/wow", "us.cdn.example.com edge.example.com"}, file.Rows[0])
	assert.Equal([]string{"eu", "tpr/wow", "eu.cdn.example.com"}, file.Rows[1])
}

func TestParse_CRLFAndBlankLines(t *testing.T) {
	assert := require.New(t)

	file, err := Parse("Region!STRING:0|BuildId!DEC:4\r\n\r\nus|12345\r\n")
	assert.NoError(err)
	assert.Equal([]string{"region", "buildid"}, file.Header)
	assert.Equal([][]string{{"us", "12345"}}, file.Rows)
}

func TestParse_EmptyField(t *testing.T) {
	assert := require.New(t)

	file, err := Parse("a!STRING:0|b!STRING:0\nx|\n")
	assert.NoError(err)
	assert.Equal([]string{"x", ""}, file.Rows[0])
}

func TestParse_RowArityMismatch(t *testing.T) {
	assert := require.New(t)

	_, err := Parse("a!STRING:0|b!STRING:0\nx|y|z\n")
	assert.ErrorContains(err, "3 fields")
}

func TestParse_MissingHeader(t *testing.T) {
	assert := require.New(t)

	_, err := Parse("## seqn = 1\n")
	assert.ErrorContains(err, "missing header")
}

func TestParse_BadSeqN(t *testing.T) {
	assert := require.New(t)

	_, err := Parse("## seqn = notanumber\na!STRING:0\n")
	assert.ErrorContains(err, "invalid seqn")
}

func TestColumn(t *testing.T) {
	assert := require.New(t)

	file, err := Parse("Name!STRING:0|Path!STRING:0\nus|tpr/wow\n")
	assert.NoError(err)

	assert.Equal(0, file.Column("Name"))
	assert.Equal(1, file.Column("path"))
	assert.Equal(-1, file.Column("missing"))
}
