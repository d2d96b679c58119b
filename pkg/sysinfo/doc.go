/*
Package sysinfo probes the local machine's resources for the system-info
API when the local backend is active.

Probe reads CPU count from the runtime, total and available memory from
/proc/meminfo, and free disk space for the data directory from statfs. On
platforms without /proc the memory fields are zero; callers treat zeroes
as "unknown" rather than as exhaustion.
*/
package sysinfo
