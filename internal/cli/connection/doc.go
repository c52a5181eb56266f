// Package connection is the client side of the warmstart-server status
// listener (/health, /ready, /status).
//
// @design DS-0602
package connection
