// Package validation は入力値の検証と自由記述フィールドの無害化を提供する。
//
// 構造体の検証にはgo-playground/validatorのタグを、
// 氏名や電話番号に紛れ込んだマークアップの除去にはbluemondayのStrictPolicyを使用する。
package validation

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/attendman/internal/model"
)

// Validator は構造体検証とテキスト無害化を行う。並行利用しても安全。
type Validator struct {
	validate *validator.Validate
	policy   *bluemonday.Policy
}

// New はValidatorを生成する。
func New() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		policy:   bluemonday.StrictPolicy(),
	}
}

// Struct はvalidateタグに従ってsを検証する。
// 違反がある場合は最初の違反を説明するValidationErrorを返す。
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return model.NewInvalidInputError(err.Error())
	}
	return model.NewInvalidInputError(describe(fieldErrs[0]))
}

// CleanText はHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
func (v *Validator) CleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(v.policy.Sanitize(s)))
}

// CleanOptional はCleanTextのポインタ版。nilはnilのまま返す。
func (v *Validator) CleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := v.CleanText(*s)
	return &cleaned
}

func describe(fe validator.FieldError) string {
	field := snakeCase(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", field)
	case "min":
		return fmt.Sprintf("%s は空にできません", field)
	case "max":
		return fmt.Sprintf("%s は%s文字以内で指定してください", field, fe.Param())
	case "contains":
		return fmt.Sprintf("%s には %q を含めてください", field, fe.Param())
	default:
		return fmt.Sprintf("%s が不正です (%s)", field, fe.Tag())
	}
}

// snakeCase は ExternalID のようなフィールド名を external_id に変換する。
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (nextLower && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
