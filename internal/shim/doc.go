/*
Package shim fabricates the handful of browser globals that challenge
scripts expect to find, so they can run inside a headless script engine.

# Bindings

  - window: the engine's global object
  - navigator: { userAgent: "" }
  - document: getElementById, createElement and a plain cookie string
  - atob: a base64 decoder that never throws

Every binding is total: no input makes it throw, and nothing is validated.
getElementById returns a fresh { value: "" } per call unless the
environment retains elements, in which case one object per id is kept so
the host can read back what a script wrote.

# Environment

An Environment is the explicit namespace the bindings are built from. The
host passes it to InstallGoja, InstallOtto or Prelude instead of relying on
ambient globals:

	env := shim.New(shim.Config{Domain: "example.com"})
	binding, err := shim.InstallGoja(vm, env)
	if err != nil {
		return err
	}
	_, err = vm.RunString(script)
	binding.Sync()
	fmt.Println(env.Document.Cookie)

# Decoding

Atob returns bytes, not text. Engine bindings convert the bytes to a
script string with one code unit per byte (see Latin1).
*/
package shim
