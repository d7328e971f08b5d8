/*
Package catalog loads the challenge catalogue and renders worker commands.

Two incompatible packagings exist in the wild, so the catalogue is a
capability interface with two implementations:

  - ScriptSource: each challenge is a directory carrying Source/run.sh,
    Source/destroy.sh and Tests/main.py, listed in a challenges.yml index.
  - ComposeSource: challenges are the port-exposing services of one compose
    project; run is build/down/up, the probe is `docker compose ps`.

The lifecycle engine and the reconciler only ever see the interface: they ask
for a command string, hand it to the executor, and hand the output back to
ParseProbe. The catalogue is immutable after load.
*/
package catalog
