// Package codec переводит порядковые номера в короткие коды и обратно.
//
// Алфавит фиксирован: цифры, строчные, затем заглавные латинские буквы.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Alphabet содержит символы кода в порядке их значений.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Base задаёт основание системы счисления.
const Base = int64(len(Alphabet))

// ErrInvalidArgument возвращается для отрицательных чисел и строк вне алфавита.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidCharError сообщает о символе, которого нет в алфавите.
type InvalidCharError struct {
	Char rune
	Pos  int
}

func (e *InvalidCharError) Error() string {
	return fmt.Sprintf("invalid character %q at position %d in base62 string", e.Char, e.Pos)
}

func (e *InvalidCharError) Unwrap() error {
	return ErrInvalidArgument
}

// Encode возвращает представление n в base62. Encode(0) == "0".
func Encode(n int64) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("%w: cannot encode negative number %d", ErrInvalidArgument, n)
	}
	if n == 0 {
		return Alphabet[:1], nil
	}

	// 11 символов хватает для math.MaxInt64
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%Base]
		n /= Base
	}
	return string(buf[i:]), nil
}

// MustEncode как Encode, но паникует на отрицательном числе.
func MustEncode(n int64) string {
	s, err := Encode(n)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode разбирает строку слева направо: num = num*62 + digit.
// Пустая строка даёт 0.
func Decode(s string) (int64, error) {
	var num int64
	for pos, ch := range s {
		digit := strings.IndexRune(Alphabet, ch)
		if digit < 0 {
			return 0, &InvalidCharError{Char: ch, Pos: pos}
		}
		if num > (math.MaxInt64-int64(digit))/Base {
			return 0, fmt.Errorf("%w: %q overflows int64", ErrInvalidArgument, s)
		}
		num = num*Base + int64(digit)
	}
	return num, nil
}
