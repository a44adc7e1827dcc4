package harness

// sdkReadyJS is true once the host SDK global exists.
const sdkReadyJS = `() => !!window.Maribro`

// pageStateJS reports how far the page got, for diagnosing an SDK wait timeout.
const pageStateJS = `() => ({ readyState: document.readyState, hasSDK: !!window.Maribro })`

// controllerJS installs the synthetic driver. It takes the simulated session
// length in milliseconds. The game's own endGame still runs with the original
// arguments; the call is additionally recorded in window.__verify_result.
const controllerJS = `(simMs) => {
  const sdk = window.Maribro;
  const original = {
    endGame: sdk.endGame.bind(sdk),
    getInput: sdk.getInput.bind(sdk),
  };
  const startedAt = performance.now();
  window.__verify_result = { done: false };

  sdk.getTimeRemainingMs = () => Math.max(0, simMs - (performance.now() - startedAt));

  sdk.getInput = (slot) => {
    const base = original.getInput(slot) || {};
    const phase = Math.floor((performance.now() + slot * 70) / 170) % 2 === 0;
    return {
      ...base,
      buttons: { ...(base.buttons || {}), south: phase, east: false, west: false, north: false },
      axes: { ...(base.axes || {}), lx: 0, ly: phase ? -0.7 : 0 },
    };
  };

  sdk.endGame = (...args) => {
    window.__verify_result = {
      done: true,
      elapsedMs: performance.now() - startedAt,
      scoresBySlot: args[0],
    };
    return original.endGame(...args);
  };
}`

// doneJS is the completion predicate.
const doneJS = `() => !!(window.__verify_result && window.__verify_result.done === true)`

// resultJS reads the observation. Non-JSON values in the payload (NaN,
// functions) come back as null, which fails the numeric check.
const resultJS = `() => window.__verify_result`
