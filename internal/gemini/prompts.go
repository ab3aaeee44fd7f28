package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

const receiptPrompt = `あなたはレシート解析の専門家です。
このレシート画像から以下の情報を正確に抽出し、JSON形式で返してください。

## 抽出項目
- date: 日付 (YYYY-MM-DD形式、読み取れない場合は null)
- amount: 合計金額 (税込、数値のみ、読み取れない場合は null)
- storeName: 店舗名 (支店名含む、読み取れない場合は null)
- items: 購入品目のリスト (配列)
- paymentMethod: 支払方法 (現金/クレジットカード/電子マネー等、読み取れない場合は null)
- suggestedCategory: 以下から最適なものを選択
  - 会議費 (打ち合わせ時の飲食)
  - 交際費 (接待)
  - 旅費交通費 (移動関連)
  - 消耗品費 (事務用品等)
  - 通信費 (電話、インターネット)
  - 新聞図書費 (書籍、雑誌)
  - 福利厚生費 (従業員向け)
  - 雑費 (その他)
- suggestedAccountCode: 勘定科目コード (会議費:7620, 交際費:7630, 旅費交通費:7610, 消耗品費:7510, 通信費:7540, 新聞図書費:7560, 福利厚生費:7410, 雑費:7990)
- confidence: 抽出の確信度 (0.0-1.0)

## 注意事項
- 読み取れない項目は null としてください
- 金額は必ず数値で返してください（カンマなし）
- 必ず有効なJSONのみを返してください。説明文は不要です。

## 出力例
{
  "date": "2026-01-09",
  "amount": 1980,
  "storeName": "スターバックス 渋谷店",
  "items": ["カフェラテ", "サンドイッチ"],
  "paymentMethod": "クレジットカード",
  "suggestedCategory": "会議費",
  "suggestedAccountCode": "7620",
  "confidence": 0.95
}
`

const selectionPrompt = `あなたは経理のエキスパートです。
以下のレシート情報と、複数の取引候補から最も適切な取引を選んでください。

## レシート情報
%s

## 取引候補
%s

## 回答形式
選択した取引のIDのみを数値で返してください。説明は不要です。
例: 12345
`

// buildSelectionPrompt renders the receipt as indented JSON and one line per candidate.
func buildSelectionPrompt(receipt domain.ExtractedReceipt, candidates []domain.CandidateTransaction) (string, error) {
	receiptJSON, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("buildSelectionPrompt: marshal receipt: %w", err)
	}

	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "ID: %d, 日付: %s, 金額: %d円, 摘要: %s", c.ID, c.Date, c.Amount, c.Description)
	}

	return fmt.Sprintf(selectionPrompt, receiptJSON, b.String()), nil
}
