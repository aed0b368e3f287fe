package engine

import "errors"

var (
	// ErrDataIntegrity битый или неупорядоченный снапшот: пропускаем, состояние не меняется.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrTransientCollaborator сбой брокера/цепочки: в этом шаге ничего не делаем.
	ErrTransientCollaborator = errors.New("transient collaborator failure")
	// ErrRiskLimitExceeded дневной лимит сделок или убытка.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	// ErrEmergencyStop аварийный стоп по долларовому убытку.
	ErrEmergencyStop = errors.New("emergency stop triggered")

	errVIXUnavailable = errors.New("vix reading missing or stale")
)
