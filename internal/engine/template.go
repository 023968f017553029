package engine

import (
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Sources: данные, доступные плейсхолдерам при подстановке.
//
// Поддерживаемые плейсхолдеры:
//
//	{{input.path}}           : вход текущего узла
//	{{credentials.path}}     : расшифрованные credentials узла
//	{{trigger.path}}         : payload триггера
//	{{$node.node_id.path}}   : выход ранее выполненного узла
type Sources struct {
	Input       map[string]any
	Credentials map[string]any
	Trigger     map[string]any
	Nodes       map[string]map[string]any
}

// placeholderRe находит все плейсхолдеры. Группа 1: источник, группа 2: путь.
var placeholderRe = regexp.MustCompile(`\{\{\s*(input|credentials|trigger|\$node)\.([^{}]+?)\s*\}\}`)

// nodeRefRe разбирает путь $node: ID узла и путь внутри его выхода.
var nodeRefRe = regexp.MustCompile(`^([a-zA-Z0-9_-]+)\.(.+)$`)

// Substitute подставляет значения в строковый шаблон.
//
// Ненайденные плейсхолдеры остаются как есть, ошибка не возникает.
// Значения приводятся к строке: числа без лишних нулей, объекты и массивы в JSON,
// nil в "null".
func Substitute(tmpl string, src Sources) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		parts := placeholderRe.FindStringSubmatch(match)
		value, ok := src.lookup(parts[1], parts[2])
		if !ok {
			return match
		}
		return Stringify(value)
	})
}

// SubstituteValue рекурсивно подставляет значения в map и slice.
// Нестроковые листья возвращаются без изменений.
func SubstituteValue(value any, src Sources) any {
	switch v := value.(type) {
	case string:
		return Substitute(v, src)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = SubstituteValue(val, src)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = SubstituteValue(val, src)
		}
		return result

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			result[key] = Substitute(val, src)
		}
		return result

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			result[i] = Substitute(val, src)
		}
		return result

	default:
		return value
	}
}

// SubstituteParams подставляет значения в параметры узла.
func SubstituteParams(params map[string]any, src Sources) map[string]any {
	if params == nil {
		return make(map[string]any)
	}
	return SubstituteValue(params, src).(map[string]any)
}

func (s Sources) lookup(source, path string) (any, bool) {
	switch source {
	case "input":
		return Lookup(s.Input, path)
	case "credentials":
		return Lookup(s.Credentials, path)
	case "trigger":
		return Lookup(s.Trigger, path)
	case "$node":
		m := nodeRefRe.FindStringSubmatch(path)
		if m == nil {
			return nil, false
		}
		out, ok := s.Nodes[m[1]]
		if !ok {
			return nil, false
		}
		return Lookup(out, m[2])
	}
	return nil, false
}

// Lookup проходит по пути вида "a.b.0.c" внутри вложенных map и slice.
// Второе значение false, если хотя бы один сегмент не найден.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}

	var current any = data
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify приводит значение к строке по правилам подстановки.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
