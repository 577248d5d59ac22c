package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter forwards fx container events to the package logger.
// Wiring noise (provides, invokes, hooks) goes to DEBUG; failures go to ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("Lifecycle: start hook %s failed: %v", shortFuncName(e.FunctionName), e.Err)
			return
		}
		Debugf("Lifecycle: start hook %s ran in %s", shortFuncName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("Lifecycle: stop hook %s failed: %v", shortFuncName(e.FunctionName), e.Err)
			return
		}
		Debugf("Lifecycle: stop hook %s ran in %s", shortFuncName(e.FunctionName), e.Runtime)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("Lifecycle: supply of %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("Lifecycle: provide via %s failed: %v", shortFuncName(e.ConstructorName), e.Err)
			return
		}
		Debugf("Lifecycle: provided %s", strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("Lifecycle: invoke %s failed: %v", shortFuncName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Infof("Lifecycle: received %s, stopping.", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("Lifecycle: stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("Lifecycle: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("Lifecycle: rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("Lifecycle: start failed: %v", e.Err)
			return
		}
		Infof("Lifecycle: application started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("Lifecycle: custom logger failed: %v", e.Err)
		}
	}
}

// shortFuncName drops closure suffixes such as ".func1" from fx function names.
func shortFuncName(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
