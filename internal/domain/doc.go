// Package domain содержит модели движка выполнения workflow.
//
// Workflow и его узлы поступают извне и движком не изменяются.
// Execution и StepResult создаются и обновляются движком.
package domain
