// mlx90640-recorder - acquire calibrated thermal images from MLX90640 sensors
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package headers

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := New("Melexis", "MLX90640", 32, 24, 4, 3080).WithFormat("float32le", 2)
	require.NoError(t, WriteHeaderInfo(&buf, h))
	buf.WriteString("frame data")

	r := bufio.NewReader(&buf)
	got, err := ReadHeaderInfo(r)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	rest, err := r.ReadString(0)
	assert.Equal(t, "frame data", rest)
	assert.Error(t, err)
}

func TestReadMissingFields(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("ResX: 32\nModel: MLX90640\n\n"))
	h, err := ReadHeaderInfo(r)
	require.NoError(t, err)
	assert.Equal(t, 32, h.ResX())
	assert.Equal(t, 0, h.ResY())
	assert.Equal(t, "MLX90640", h.Model())
	assert.Equal(t, "", h.Brand())
}

func TestReadTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("ResX: 32\n"))
	_, err := ReadHeaderInfo(r)
	assert.Error(t, err)
}
