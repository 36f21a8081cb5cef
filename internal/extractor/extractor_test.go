package extractor

import (
	"testing"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanHTML(t *testing.T) {
	cases := map[string]string{
		"<p>Hello<br/>World</p>":          "Hello\nWorld",
		"<p>A <b>bold</b>   move</p>":     "A bold move",
		"x&nbsp;&amp;&nbsp;y":             "x & y",
		"line1<BR>line2<br />line3":       "line1\nline2\nline3",
		"   ":                             "",
		"<div><p>첫 문단</p><p>둘째</p></div>": "첫 문단 둘째",
		"<p>Line one\n\n\n   Line two</p>": "Line one Line two",
		"<p>a\r\n\tb</p>":                   "a b",
		"<p>첫 줄 \n<br>\n 둘째 줄</p>":          "첫 줄\n둘째 줄",
		"<p>x < y 이고 y > z 이다</p>":          "x < y 이고 y > z 이다",
		"<p>본문<!-- a > b --></p>":           "본문",
		"<p>A</p><script>var s='<b>';</script><style>p{}</style>B": "A B",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanHTML(in), "input %q", in)
	}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, SchemaChapters, Detect(map[string]any{"chapters": []any{}, "data": []any{}}))
	assert.Equal(t, SchemaOutline, Detect(map[string]any{"data": []any{}}))
	assert.Equal(t, SchemaWrapped, Detect(map[string]any{"parsedData": map[string]any{}}))
	assert.Equal(t, SchemaUnknown, Detect(map[string]any{"chapters": "nope"}))
}

func TestExtract_Chapters(t *testing.T) {
	raw := map[string]any{
		"chapters": []any{
			map[string]any{"id": float64(1), "title": "광합성", "type": "content", "content": "<p>Hello<br/>World</p>"},
			map[string]any{"id": "2", "title": "빈 챕터", "type": "content", "content": "<p>새 챕터의 내용을 입력하세요</p>"},
			map[string]any{"id": 3, "type": "content", "content": "<p>  </p>"},
			map[string]any{"id": 4, "title": "퀴즈", "type": "quiz", "qa": []any{
				map[string]any{"question": "q1", "answer": "a1"},
				map[string]any{"question": "", "answer": "a2"},
				map[string]any{"question": "q3", "answer": "a3"},
			}},
		},
	}

	units, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, model.UnitContent, units[0].Kind)
	assert.Equal(t, "Hello\nWorld", units[0].Text)
	assert.Equal(t, "1", units[0].Meta.ChapterID)
	assert.Equal(t, "광합성", units[0].Meta.Title)

	assert.Equal(t, model.UnitQA, units[1].Kind)
	assert.Equal(t, "질문: q1\n정답: a1", units[1].Text)
	require.NotNil(t, units[1].Meta.QAIndex)
	assert.Equal(t, 0, *units[1].Meta.QAIndex)

	assert.Equal(t, "질문: q3\n정답: a3", units[2].Text)
	require.NotNil(t, units[2].Meta.QAIndex)
	assert.Equal(t, 2, *units[2].Meta.QAIndex)
	assert.Equal(t, "4", units[2].Meta.ChapterID)
}

func TestExtract_MissingTitle(t *testing.T) {
	units, err := Extract(map[string]any{"chapters": []any{
		map[string]any{"id": 9, "type": "content", "content": "본문"},
	}})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "제목 없음", units[0].Meta.Title)
}

func TestExtract_Outline(t *testing.T) {
	raw := map[string]any{
		"data": []any{
			map[string]any{
				"index":       float64(1),
				"index_title": "I. 생명과학",
				"titles": []any{
					map[string]any{
						"title":    "세포",
						"contents": "세포는 생명의 단위이다.",
						"s_titles": []any{
							map[string]any{
								"s_title":  "세포막",
								"contents": "선택적 투과성",
								"ss_titles": []any{
									map[string]any{"ss_title": "인지질", "contents": []any{"이중층", "구조"}},
								},
							},
							map[string]any{
								"s_title":  "개념 Check",
								"contents": "복습 문제",
								"ss_titles": []any{
									map[string]any{"ss_title": "문제1", "contents": "숨겨짐"},
								},
							},
						},
					},
				},
			},
		},
	}

	units, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "세포\n세포는 생명의 단위이다.", units[0].Text)
	assert.Equal(t, "1", units[0].Meta.ChapterID)
	assert.Equal(t, "I. 생명과학", units[0].Meta.Title)
	assert.Equal(t, "세포", units[0].Meta.SectionTitle)

	assert.Equal(t, "세포막", units[1].Meta.SubTitle)
	assert.Equal(t, "인지질\n이중층\n구조", units[2].Text)
	assert.Equal(t, "세포막 > 인지질", units[2].Meta.SubTitle)

	for _, u := range units {
		assert.NotContains(t, u.Text, "복습")
		assert.NotContains(t, u.Text, "숨겨짐")
	}
}

func TestExtract_Wrapped(t *testing.T) {
	raw := map[string]any{
		"parsed_data": map[string]any{
			"chapters": []any{map[string]any{"id": 1, "title": "t", "type": "content", "content": "x"}},
		},
	}
	units, err := Extract(raw)
	require.NoError(t, err)
	require.Len(t, units, 1)
}

func TestExtract_Unrecognized(t *testing.T) {
	_, err := Extract(map[string]any{"zeta": 1, "alpha": 2})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnrecognizedSchema))
	assert.Equal(t, []string{"alpha", "zeta"}, errs.DetailOf(err)["seen_keys"])
}

func TestExtract_WrappedOnlyOnce(t *testing.T) {
	raw := map[string]any{"parsedData": map[string]any{"parsedData": map[string]any{
		"chapters": []any{},
	}}}
	_, err := Extract(raw)
	assert.True(t, errs.Is(err, errs.UnrecognizedSchema))
}

func TestExtractBytes(t *testing.T) {
	units, err := ExtractBytes([]byte(`[{"id":1,"title":"t","type":"content","content":"<p>a</p>"}]`))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "a", units[0].Text)

	_, err = ExtractBytes([]byte(`not json`))
	assert.True(t, errs.Is(err, errs.UnrecognizedSchema))
}
