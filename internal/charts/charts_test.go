package charts

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliscope/compliscope/internal/models"
)

func TestScoreComparisonPNG(t *testing.T) {
	original := models.ScoreSet{Overall: 70, GDPR: 75, HIPAA: 65, SOC2: 72}
	predicted := models.ScoreSet{Overall: 71, GDPR: 78, HIPAA: 61, SOC2: 76}

	data, err := ScoreComparisonPNG(original, predicted)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(chartWidth, chartHeight), img.Bounds().Size())

	// Top-left corner is outside the plot and stays background.
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
}

func TestScoreComparisonPNG_EmptyScores(t *testing.T) {
	data, err := ScoreComparisonPNG(models.ScoreSet{}, models.ScoreSet{})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFit(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, imaging.Encode(&src, imaging.New(2000, 1000, color.NRGBA{R: 10, A: 255}), imaging.PNG))

	data, size, err := Fit(src.Bytes(), 800)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(800, 400), size)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
}

func TestFit_SmallImageUnchanged(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, imaging.Encode(&src, imaging.New(300, 100, color.White), imaging.PNG))

	_, size, err := Fit(src.Bytes(), 800)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(300, 100), size)
}

func TestFit_Garbage(t *testing.T) {
	_, _, err := Fit([]byte("not an image"), 800)
	assert.Error(t, err)
}
