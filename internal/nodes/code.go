package nodes

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	// TypeCode: тип узла пользовательского кода.
	TypeCode = "code"

	defaultCodeTimeout = 10 * time.Second

	// codeMaxNodes: предел размера AST программы.
	codeMaxNodes = 10000

	// codeMemoryBudget: предел аллокаций VM (элементы диапазонов и итерации циклов).
	codeMemoryBudget = 1_000_000
)

// CodeNode: узел пользовательского кода.
//
// Код: программа expr-lang над снимком {input, trigger, nodes}:
//
//	{"code": "let total = sum(input.items, .price); {total: total, count: len(input.items)}"}
//
// Снимок копируется перед выполнением, поэтому код не может изменить
// выходы других узлов. Встроенных функций ввода-вывода нет.
// Выполнение ограничено таймаутом (10 секунд по умолчанию). VM expr нельзя
// прервать извне, поэтому объём работы дополнительно ограничен размером AST
// и бюджетом памяти VM: программа, превысившая бюджет, завершается ошибкой.
//
// Объект-результат становится данными узла, иначе {"result": значение}.
type CodeNode struct {
	timeout time.Duration
	run     func(program *vm.Program, env any) (any, error)

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCodeNode создаёт узел code.
func NewCodeNode() *CodeNode {
	return &CodeNode{
		timeout: defaultCodeTimeout,
		run:     runBudgeted,
		cache:   make(map[string]*vm.Program),
	}
}

// Type возвращает тип узла.
func (n *CodeNode) Type() string {
	return TypeCode
}

type codeResult struct {
	value any
	err   error
}

// Execute выполняет код в песочнице.
func (n *CodeNode) Execute(ctx context.Context, req *Request) (*Response, error) {
	source := req.Param("code")
	if source == "" {
		return nil, fmt.Errorf("%w: %s: code is required", ErrInvalidParams, TypeCode)
	}

	env, ok := normalizeJSON(deepCopy(req.Scope())).(map[string]any)
	if !ok {
		return nil, errors.New("code scope is not an object")
	}

	prg, err := n.compile(source, env)
	if err != nil {
		return nil, err
	}

	timeout := n.timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	done := make(chan codeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- codeResult{err: fmt.Errorf("code panicked: %v\n%s", p, debug.Stack())}
			}
		}()
		out, err := n.run(prg, env)
		done <- codeResult{value: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("Code execution error: %w", res.err)
		}
		if m, ok := res.value.(map[string]any); ok {
			return NewResponse(m), nil
		}
		return NewResponse(map[string]any{"result": res.value}), nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: code exceeded %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *CodeNode) compile(source string, env map[string]any) (*vm.Program, error) {
	n.mu.RLock()
	if prg, ok := n.cache[source]; ok {
		n.mu.RUnlock()
		return prg, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if prg, ok := n.cache[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(codeMaxNodes),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: code compile error: %v", ErrInvalidParams, err)
	}

	n.cache[source] = prg
	return prg, nil
}

func runBudgeted(program *vm.Program, env any) (any, error) {
	machine := vm.VM{MemoryBudget: codeMemoryBudget}
	return machine.Run(program, env)
}
