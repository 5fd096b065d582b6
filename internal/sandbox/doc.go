/*
Package sandbox runs challenge JavaScript in isolated goja VMs.

# Overview

Each Runtime owns one VM with the browser shim installed (window, navigator,
document, atob), console capture and a virtual timer queue. Scripts never
sleep: setTimeout and setInterval callbacks are queued and drained against a
virtual clock after each Execute, so a challenge that waits four seconds
before writing its answer finishes immediately.

# Limits

  - Timeout bounds wall-clock time per Execute, including timer callbacks
  - TimerBudget bounds how far the virtual clock advances per Execute
  - MaxTimerFires bounds callback count, which stops runaway intervals
  - require, process, module and exports are undefined

# Usage

	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 4, logger)
	res, err := pool.Execute(ctx, shim.Config{Domain: "example.com"}, script)
*/
package sandbox
