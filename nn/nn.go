// Package nn provides a small CPU neural network engine with exact reverse-mode
// gradients with respect to the network input.
//
// Networks are built as a Sequential stack of layers that operate on flattened
// NCHW float32 buffers:
//   - Conv2D / ConvTranspose2D: PyTorch weight layouts
//   - Linear: weight [out][in], input flattened per sample
//   - BatchNorm2D: inference mode, running statistics
//   - Activation: ReLU, LeakyReLU, Sigmoid, Tanh
//   - ZeroPad2D, Reshape, Slice, L2Normalize
//
// A forward pass returns a Tape that retains every intermediate activation.
// The tape is read-only, so any number of vector-Jacobian products can be
// evaluated against a single forward pass, sequentially or concurrently:
//
//	tape, _ := seq.Forward(x, batch)
//	defer tape.Release()
//	gradInput, _ := tape.VJP(seed)
//
// Each VJP call returns a freshly allocated gradient; no gradient state is
// accumulated on the network or the tape.
package nn
