// Package logs reads the daemon log file for `conveyor logs`.
//
// Console records span several lines (a header plus indented fields), so the
// reader groups lines into entries before applying limits and filters. JSON
// records are one entry per line. Offsets let follow mode resume where the
// previous read stopped.
package logs
