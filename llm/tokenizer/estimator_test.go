package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("generic", 0)

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "ascii sentence", text: "hello world, this is a test.", want: 7},
		{name: "pure cjk", text: "你好世界", want: 2},
		{name: "single char floors to one", text: "a", want: 1},
		{name: "mixed cjk and ascii", text: "生成 REST API", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CountTokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimator_CJKDensierThanASCII(t *testing.T) {
	e := NewEstimatorTokenizer("generic", 0)

	// 同样 12 个字符, CJK 文本的 token 数应明显更高.
	cjk, err := e.CountTokens("设计文档转换为代码文件集")
	require.NoError(t, err)
	ascii, err := e.CountTokens("abcdefghijkl")
	require.NoError(t, err)
	assert.Greater(t, cjk, ascii, "CJK 文本每字符的 token 密度应高于 ASCII")
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("generic", 0)

	tests := []struct {
		name     string
		messages []Message
		want     int
	}{
		{
			name:     "empty conversation",
			messages: nil,
			want:     3,
		},
		{
			name:     "single message",
			messages: []Message{{Role: "user", Content: "hello world"}},
			want:     9, // 2 content + 4 overhead + 3 end
		},
		{
			name: "two messages",
			messages: []Message{
				{Role: "system", Content: "你好"},
				{Role: "user", Content: "world"},
			},
			want: 13,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CountMessages(tt.messages)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimator_MaxTokens(t *testing.T) {
	assert.Equal(t, 8192, NewEstimatorTokenizer("m", 0).MaxTokens())
	assert.Equal(t, 8192, NewEstimatorTokenizer("m", -1).MaxTokens())
	assert.Equal(t, 32000, NewEstimatorTokenizer("m", 32000).MaxTokens())
}

func TestEstimator_Name(t *testing.T) {
	assert.Equal(t, "estimator", NewEstimatorTokenizer("anything", 0).Name())
}

func TestIsCJK(t *testing.T) {
	assert.True(t, isCJK('中'))
	assert.True(t, isCJK('。'))
	assert.True(t, isCJK('Ａ'), "全角字符按 CJK 处理")
	assert.False(t, isCJK('a'))
	assert.False(t, isCJK(' '))
	assert.False(t, isCJK('é'))
}
