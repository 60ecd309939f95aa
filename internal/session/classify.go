package session

import "strings"

// rateLimitIndicator はバックエンドのレートリミットエラーを識別する部分文字列。
//
// バックエンドのエラー文言への脆い結合である。エラー分類がコード化された
// 契約として提供されていないため、現状は文字列マッチに頼るしかない。
// バックエンドのエラー体系が変わった場合はこの1箇所を差し替える。
const rateLimitIndicator = "rate limit"

// isRateLimitError はエラーメッセージがレートリミットを示すか判定する。
func isRateLimitError(message string) bool {
	return strings.Contains(strings.ToLower(message), rateLimitIndicator)
}
