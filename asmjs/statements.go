package asmjs

import (
	"tlog.app/go/errors"

	"nikand.dev/go/asmwasm"
	"nikand.dev/go/asmwasm/ast"
)

// statements emits a Block of the statements up to and including the first jump.
func (e *emitter) statements(list []ast.Statement) {
	n := len(list)

	for i, s := range list {
		if ast.IsJump(s) {
			n = i + 1
			break
		}
	}

	if n > 0xff {
		panic(errors.New("too many statements in a block: %d", n))
	}

	e.f.Emit(asmwasm.Block, byte(n))

	for _, s := range list[:n] {
		e.statement(s)

		if e.overflow {
			return
		}
	}
}

func (e *emitter) statement(s ast.Statement) {
	defer e.ascend()
	if !e.descend() {
		return
	}

	switch s := s.(type) {
	case *ast.Block:
		e.push(s, false, 1, 0)
		e.statements(s.Statements)
		e.pop()
	case *ast.ExpressionStatement:
		e.expression(s.Expr)
	case *ast.EmptyStatement, *ast.DebuggerStatement:
		e.f.Emit(asmwasm.Nop)
	case *ast.IfStatement:
		e.ifStatement(s)
	case *ast.ContinueStatement:
		e.f.Emit(asmwasm.Br, e.distance(s.Target, true))
	case *ast.BreakStatement:
		e.f.Emit(asmwasm.Br, e.distance(s.Target, false))
	case *ast.ReturnStatement:
		e.returnStatement(s)
	case *ast.WhileStatement:
		e.whileStatement(s)
	case *ast.DoWhileStatement:
		e.doWhileStatement(s)
	case *ast.ForStatement:
		e.forStatement(s)
	default:
		panic(errors.New("unsupported statement: %T", s))
	}
}

func (e *emitter) ifStatement(s *ast.IfStatement) {
	if s.Else != nil {
		e.f.Emit(asmwasm.IfThen)
	} else {
		e.f.Emit(asmwasm.If)
	}

	e.expression(s.Cond)

	if s.Then != nil {
		e.statement(s.Then)
	} else {
		e.f.Emit(asmwasm.Nop)
	}

	if s.Else != nil {
		e.statement(s.Else)
	}
}

func (e *emitter) returnStatement(s *ast.ReturnStatement) {
	void := e.f.Signature().Return == asmwasm.Void

	switch {
	case void && s.Expr != nil:
		panic(errors.New("return with a value from a void function"))
	case !void && s.Expr == nil:
		panic(errors.New("return without a value from a non void function"))
	}

	e.f.Emit(asmwasm.Return)

	if s.Expr != nil {
		e.expression(s.Expr)
	}
}

// exit emits If (BoolNot cond) (Br 1) leaving the loop from its top level.
func (e *emitter) exit(cond ast.Expression) {
	e.f.Emit(asmwasm.If)
	e.f.Emit(asmwasm.BoolNot)
	e.expression(cond)
	e.f.Emit(asmwasm.Br, 1)
}

// Block 1 [Loop 2 [If (BoolNot cond) (Br 1), body]]
func (e *emitter) whileStatement(s *ast.WhileStatement) {
	e.f.Emit(asmwasm.Block, 1)
	e.f.Emit(asmwasm.Loop, 2)

	e.push(s, true, 2, 1)
	defer e.pop()

	e.exit(s.Cond)
	e.statement(s.Body)
}

// Block 1 [Loop 2 [Block 1 [body], If (BoolNot cond) (Br 1)]]
func (e *emitter) doWhileStatement(s *ast.DoWhileStatement) {
	e.f.Emit(asmwasm.Block, 1)
	e.f.Emit(asmwasm.Loop, 2)
	e.f.Emit(asmwasm.Block, 1)

	e.push(s, true, 3, 2)
	e.statement(s.Body)
	e.pop()

	e.exit(s.Cond)
}

// Block 2 [init, loop] if init is present where loop is
// Block 1 [Loop k [If (BoolNot cond) (Br 1), Block 1 [body], next]] with next clause or
// Block 1 [Loop k [If (BoolNot cond) (Br 1), body]] without it.
func (e *emitter) forStatement(s *ast.ForStatement) {
	levels := 2
	if s.Next != nil {
		levels = 3
	}

	brk := levels - 1

	if s.Init != nil {
		e.f.Emit(asmwasm.Block, 2)
		e.statement(s.Init)

		levels++
	}

	k := 1
	if s.Cond != nil {
		k++
	}
	if s.Next != nil {
		k++
	}

	e.f.Emit(asmwasm.Block, 1)
	e.f.Emit(asmwasm.Loop, byte(k))

	if s.Cond != nil {
		e.exit(s.Cond)
	}

	if s.Next == nil {
		e.push(s, true, levels, brk)
		e.statement(s.Body)
		e.pop()

		return
	}

	e.f.Emit(asmwasm.Block, 1)

	e.push(s, true, levels, brk)
	e.statement(s.Body)
	e.pop()

	e.statement(s.Next)
}
