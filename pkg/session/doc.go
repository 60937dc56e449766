/*
Package session layers human-in-the-loop control and run persistence on top of a hub.

Controller pauses a run on a prompt until a reply or an abort arrives. Manager
orchestrates access to recorded runs, serializing work on one run id across
goroutines and, with a distributed locker, across replicas.
*/
package session
