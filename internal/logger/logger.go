// Package logger provides leveled output for diaryctl commands.
//
// Verbosity follows the root --verbose and --debug flags:
//
//	Logger.Infof()       // --verbose or --debug
//	Logger.Debugf()      // --debug only
//	Logger.Warnf()       // --verbose or --debug
//	Logger.WarnfAlways() // always
//	Logger.Errorf()      // always
//
// Messages must never include passphrases or entry text.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Logger struct {
	Verbose bool
	Debug   bool

	// Out and Err default to os.Stdout and os.Stderr.
	Out io.Writer
	Err io.Writer
}

// New returns a Logger writing to the standard streams.
func New(verbose, debug bool) *Logger {
	return &Logger{Verbose: verbose || debug, Debug: debug}
}

func (l *Logger) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stdout
}

func (l *Logger) err() io.Writer {
	if l.Err != nil {
		return l.Err
	}
	return os.Stderr
}

func (l *Logger) Infof(msg string, args ...any) {
	if l.Verbose {
		fmt.Fprintf(l.out(), color.GreenString("[info] ")+msg+"\n", args...)
	}
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l.Debug {
		fmt.Fprintf(l.out(), color.CyanString("[debug] ")+msg+"\n", args...)
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	if l.Verbose {
		l.WarnfAlways(msg, args...)
	}
}

func (l *Logger) WarnfAlways(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.YellowString("[warn] ")+msg+"\n", args...)
}

func (l *Logger) Errorf(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.RedString("[error] ")+msg+"\n", args...)
}
