// Package cli implements the track17 command line tool.
//
//	track17 track [--carrier NAME] [--json] NUMBER...
//	track17 sign
//
// Configuration comes from the same environment variables as the server;
// flags override them.
package cli
